package channels

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coterie-ai/coterie/internal/runtime"
	"github.com/coterie-ai/coterie/internal/store"
)

// PoolConfig tunes the turn-taking scheduler.
type PoolConfig struct {
	// MaxRounds bounds agent-to-agent cascades. 1 means the mandatory
	// first round only, no follow-up rounds.
	MaxRounds int

	// StaggerMin/StaggerMax bound the randomized delay between
	// consecutive turns within a round.
	StaggerMin time.Duration
	StaggerMax time.Duration

	// SettleDelay is the fixed wait before each follow-up round.
	SettleDelay time.Duration

	// Seed, when non-zero, makes round ordering and stagger delays
	// deterministic. Zero seeds from the clock.
	Seed int64
}

// DefaultPoolConfig returns the stock scheduler tuning.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxRounds:   1,
		StaggerMin:  500 * time.Millisecond,
		StaggerMax:  2 * time.Second,
		SettleDelay: time.Second,
	}
}

// AgentPool drives agent reactions to channel events in bounded,
// strictly sequential rounds. At most one batch runs at a time; a
// trigger arriving while a batch is running is dropped, not queued.
// Both are deliberate: they bound concurrent writers against the
// shared message log and cap cascade amplification.
type AgentPool struct {
	store   store.ChannelStore
	factory runtime.Factory
	cfg     PoolConfig

	running atomic.Bool // Idle=false, RunningBatch=true

	mu       sync.Mutex
	runtimes map[string]runtime.AgentRuntime
	rng      *rand.Rand
}

func NewAgentPool(st store.ChannelStore, factory runtime.Factory, cfg PoolConfig) *AgentPool {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	if cfg.StaggerMax < cfg.StaggerMin {
		cfg.StaggerMax = cfg.StaggerMin
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &AgentPool{
		store:    st,
		factory:  factory,
		cfg:      cfg,
		runtimes: make(map[string]runtime.AgentRuntime),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// target is one agent identity selected for a batch.
type target struct {
	id   string
	name string
}

// TriggerResponses reacts to a message landing in a channel: it selects
// the assistant members that should respond and drives them one at a
// time through up to MaxRounds rounds. Blocks until the batch finishes.
// A call arriving while another batch runs returns immediately.
//
// excludeID names the identity already driving the active foreground
// session; it reacts through its own loop and is never scheduled here.
func (p *AgentPool) TriggerResponses(ctx context.Context, channelName, personName, message string, members []store.ChannelMemberData, excludeID string) {
	if !p.running.CompareAndSwap(false, true) {
		slog.Debug("pool.trigger.dropped", "channel", channelName)
		return
	}
	defer p.running.Store(false)

	var assistants []store.ChannelMemberData
	for _, m := range members {
		if m.MemberType == store.MemberTypeAssistant {
			assistants = append(assistants, m)
		}
	}
	if len(assistants) == 0 {
		return
	}

	targets, ok := p.selectTargets(message, assistants, excludeID)
	if !ok || len(targets) == 0 {
		return
	}

	ctx, span := startBatchSpan(ctx, channelName, len(targets))
	defer span.End()

	slog.Info("pool.batch.start", "channel", channelName, "targets", len(targets), "max_rounds", p.cfg.MaxRounds)

	prompt := roundOnePrompt(channelName, personName, message)
	p.runRound(ctx, 1, channelName, targets, prompt)

	for round := 2; round <= p.cfg.MaxRounds; round++ {
		p.sleep(p.cfg.SettleDelay)

		followUps := p.unreadTargets(ctx, channelName, targets)
		if len(followUps) == 0 {
			slog.Debug("pool.batch.settled", "channel", channelName, "round", round)
			break
		}
		p.runRound(ctx, round, channelName, followUps, followUpPrompt(channelName))
	}

	slog.Info("pool.batch.done", "channel", channelName)
}

// selectTargets applies mention narrowing and the exclude filter.
// When the message carries mentions but none resolve against the
// channel's assistants, the whole batch aborts: an unrecognized
// @handle must never fan out to everyone.
func (p *AgentPool) selectTargets(message string, assistants []store.ChannelMemberData, excludeID string) ([]target, bool) {
	pool := assistants

	if mentions := ParseMentions(message); len(mentions) > 0 {
		var resolved []store.ChannelMemberData
		seen := make(map[string]struct{})
		for _, name := range mentions {
			if k := ResolveNameToKnown(name, assistants); k != nil {
				if _, dup := seen[k.ID]; dup {
					continue
				}
				seen[k.ID] = struct{}{}
				for _, a := range assistants {
					if a.MemberID == k.ID {
						resolved = append(resolved, a)
						break
					}
				}
			}
		}
		if len(resolved) == 0 {
			return nil, false
		}
		pool = resolved
	}

	var targets []target
	for _, a := range pool {
		if a.MemberID == excludeID {
			continue
		}
		targets = append(targets, target{id: a.MemberID, name: a.MemberName})
	}
	return targets, true
}

// runRound drives one sequential pass: unbiased shuffle, then one turn
// per target with a randomized stagger between consecutive turns. A
// failed turn is logged and skipped; it never aborts the round.
func (p *AgentPool) runRound(ctx context.Context, round int, channelName string, targets []target, prompt string) {
	shuffled := make([]target, len(targets))
	copy(shuffled, targets)
	p.mu.Lock()
	p.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	p.mu.Unlock()

	ctx, span := startRoundSpan(ctx, round, len(shuffled))
	defer span.End()

	for i, t := range shuffled {
		if i > 0 {
			p.sleep(p.staggerDelay())
		}
		if err := p.runTurn(ctx, t, prompt); err != nil {
			slog.Error("pool.turn.failed", "channel", channelName, "round", round, "agent", t.id, "error", err)
		}
	}
}

func (p *AgentPool) runTurn(ctx context.Context, t target, prompt string) error {
	ctx, span := startTurnSpan(ctx, t.id)
	defer span.End()

	handle, err := p.handleFor(ctx, t)
	if err != nil {
		return err
	}
	return handle.Send(ctx, prompt)
}

// handleFor returns the cached runtime handle for an identity, creating
// and initializing it on first use. Handles live for the pool's
// lifetime and are disposed by Shutdown.
func (p *AgentPool) handleFor(ctx context.Context, t target) (runtime.AgentRuntime, error) {
	p.mu.Lock()
	if h, ok := p.runtimes[t.id]; ok {
		p.mu.Unlock()
		return h, nil
	}
	p.mu.Unlock()

	h := p.factory(t.id, t.name)
	if err := h.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize runtime for %s: %w", t.id, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.runtimes[t.id]; ok {
		h.Disconnect()
		return existing, nil
	}
	p.runtimes[t.id] = h
	return h, nil
}

// unreadTargets recomputes the follow-up set: original targets that
// still have unread messages in the channel. An agent's own reply
// advanced its cursor, so responders drop out and the cascade settles.
func (p *AgentPool) unreadTargets(ctx context.Context, channelName string, targets []target) []target {
	ch, err := p.store.GetChannelByName(ctx, channelName)
	if err != nil || ch == nil {
		return nil
	}

	var out []target
	for _, t := range targets {
		unread, err := p.store.GetUnreadMessages(ctx, ch.ID, t.id)
		if err != nil {
			slog.Error("pool.unread.check_failed", "channel", channelName, "agent", t.id, "error", err)
			continue
		}
		if len(unread) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Shutdown disconnects and drops every cached runtime handle.
// Individual disconnect failures are logged and swallowed.
func (p *AgentPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.runtimes {
		if err := h.Disconnect(); err != nil {
			slog.Warn("pool.shutdown.disconnect_failed", "agent", id, "error", err)
		}
	}
	p.runtimes = make(map[string]runtime.AgentRuntime)
}

func (p *AgentPool) staggerDelay() time.Duration {
	if p.cfg.StaggerMax <= p.cfg.StaggerMin {
		return p.cfg.StaggerMin
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.StaggerMin + time.Duration(p.rng.Int63n(int64(p.cfg.StaggerMax-p.cfg.StaggerMin)))
}

func (p *AgentPool) sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func roundOnePrompt(channelName, personName, message string) string {
	return fmt.Sprintf(
		"New message in #%s from %s:\n\n%s\n\nYou are a member of this channel. Read the recent conversation with your channel tools and reply in #%s if you have something to contribute.",
		channelName, personName, message, channelName)
}

func followUpPrompt(channelName string) string {
	return fmt.Sprintf(
		"There are unread messages in #%s. Read them with your channel tools and reply if a response is warranted, or say nothing if you have nothing to add.",
		channelName)
}
