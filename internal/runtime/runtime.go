// Package runtime abstracts the external agent runtime that executes
// LLM calls and tool use. The channel scheduler only needs to hand a
// prompt to an agent identity and wait for the turn to finish.
package runtime

import "context"

// AgentRuntime is one agent identity's handle into the runtime.
type AgentRuntime interface {
	// Initialize prepares the handle. Called once before first use.
	Initialize(ctx context.Context) error

	// Send delivers a prompt and blocks until the agent's turn
	// completes. Whatever the agent writes back into channels happens
	// through its own tool calls, not through the return value.
	Send(ctx context.Context, prompt string) error

	// Disconnect releases the handle.
	Disconnect() error
}

// Factory creates a runtime handle for an agent identity.
type Factory func(agentID, agentName string) AgentRuntime
