package protocol

// WebSocket event names pushed from server to client.
const (
	EventHealth         = "health"
	EventChannelMessage = "channel.message"
	EventShutdown       = "shutdown"
)
