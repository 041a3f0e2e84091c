package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coterie-ai/coterie/internal/store"
)

// ManagerConfig holds the per-identity channel policy knobs.
type ManagerConfig struct {
	InjectionEnabled     bool
	InjectionMaxPerTurn  int
	RetentionMaxAgeDays  int
	RetentionMaxMessages int
}

// DefaultManagerConfig returns the stock retention and injection policy.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		InjectionEnabled:     true,
		InjectionMaxPerTurn:  10,
		RetentionMaxAgeDays:  90,
		RetentionMaxMessages: 5000,
	}
}

// Result is the outcome of a channel operation. Expected business
// failures (not found, archived, not a member, ...) come back as
// Success=false with a human-readable message, never as an error.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ChannelID string `json:"channelId,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Manager is the channel domain layer bound to one assistant identity.
type Manager struct {
	store         store.ChannelStore
	assistantID   string
	assistantName string

	mu  sync.RWMutex
	cfg ManagerConfig
}

func NewManager(st store.ChannelStore, assistantID, assistantName string, cfg ManagerConfig) *Manager {
	if cfg.RetentionMaxAgeDays <= 0 {
		cfg.RetentionMaxAgeDays = 90
	}
	if cfg.RetentionMaxMessages <= 0 {
		cfg.RetentionMaxMessages = 5000
	}
	return &Manager{
		store:         st,
		assistantID:   assistantID,
		assistantName: assistantName,
		cfg:           cfg,
	}
}

// AssistantID returns the bound identity's id.
func (m *Manager) AssistantID() string { return m.assistantID }

// Store exposes the underlying channel store for read paths that
// bypass identity guards (scheduler, gateway listings).
func (m *Manager) Store() store.ChannelStore { return m.store }

// SetPolicy swaps the injection and retention knobs at runtime. Used by
// the config reload path.
func (m *Manager) SetPolicy(cfg ManagerConfig) {
	if cfg.RetentionMaxAgeDays <= 0 {
		cfg.RetentionMaxAgeDays = 90
	}
	if cfg.RetentionMaxMessages <= 0 {
		cfg.RetentionMaxMessages = 5000
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Manager) policy() ManagerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// resolveActive looks a channel up by name or id and applies the
// existence and active-status guards shared by most operations.
func (m *Manager) resolveActive(ctx context.Context, nameOrID string) (*store.ChannelData, *Result) {
	ch, err := m.store.ResolveChannel(ctx, nameOrID)
	if err != nil {
		r := failure("channel lookup failed: %v", err)
		return nil, &r
	}
	if ch == nil {
		r := failure("channel %q not found", nameOrID)
		return nil, &r
	}
	if ch.Status != store.ChannelStatusActive {
		r := failure("channel #%s is archived", ch.Name)
		return nil, &r
	}
	return ch, nil
}

// CreateChannel creates a channel owned by the bound identity.
func (m *Manager) CreateChannel(ctx context.Context, name, description string) Result {
	ch, err := m.store.CreateChannel(ctx, name, description, m.assistantID, m.assistantName)
	if err != nil {
		if errors.Is(err, store.ErrChannelExists) {
			return failure("a channel named %q already exists", name)
		}
		if errors.Is(err, store.ErrInvalidChannelName) {
			return failure("%q is not a usable channel name", name)
		}
		return failure("create channel: %v", err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Created #%s", ch.Name), ChannelID: ch.ID.String()}
}

// Join adds the bound identity to a channel.
func (m *Manager) Join(ctx context.Context, nameOrID string) Result {
	ch, fail := m.resolveActive(ctx, nameOrID)
	if fail != nil {
		return *fail
	}

	isMember, err := m.store.IsMember(ctx, ch.ID, m.assistantID)
	if err != nil {
		return failure("membership check failed: %v", err)
	}
	if isMember {
		return failure("already a member of #%s", ch.Name)
	}

	if err := m.store.AddMember(ctx, &store.ChannelMemberData{
		ChannelID:  ch.ID,
		MemberID:   m.assistantID,
		MemberName: m.assistantName,
		Role:       store.RoleMember,
		MemberType: store.MemberTypeAssistant,
	}); err != nil {
		return failure("join failed: %v", err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Joined #%s", ch.Name), ChannelID: ch.ID.String()}
}

// Leave removes the bound identity from a channel.
func (m *Manager) Leave(ctx context.Context, nameOrID string) Result {
	ch, fail := m.resolveActive(ctx, nameOrID)
	if fail != nil {
		return *fail
	}

	isMember, err := m.store.IsMember(ctx, ch.ID, m.assistantID)
	if err != nil {
		return failure("membership check failed: %v", err)
	}
	if !isMember {
		return failure("not a member of #%s", ch.Name)
	}

	if err := m.store.RemoveMember(ctx, ch.ID, m.assistantID); err != nil {
		return failure("leave failed: %v", err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Left #%s", ch.Name), ChannelID: ch.ID.String()}
}

// Invite adds another identity to a channel.
func (m *Manager) Invite(ctx context.Context, nameOrID, targetID, targetName, memberType string) Result {
	ch, fail := m.resolveActive(ctx, nameOrID)
	if fail != nil {
		return *fail
	}
	if memberType != store.MemberTypeAssistant && memberType != store.MemberTypePerson {
		return failure("unknown member type %q", memberType)
	}

	isMember, err := m.store.IsMember(ctx, ch.ID, targetID)
	if err != nil {
		return failure("membership check failed: %v", err)
	}
	if isMember {
		return failure("%s is already a member of #%s", targetName, ch.Name)
	}

	if err := m.store.AddMember(ctx, &store.ChannelMemberData{
		ChannelID:  ch.ID,
		MemberID:   targetID,
		MemberName: targetName,
		Role:       store.RoleMember,
		MemberType: memberType,
	}); err != nil {
		return failure("invite failed: %v", err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Added %s to #%s", targetName, ch.Name), ChannelID: ch.ID.String()}
}

// Archive soft-deletes a channel. One-way: there is no un-archive.
func (m *Manager) Archive(ctx context.Context, nameOrID string) Result {
	ch, err := m.store.ResolveChannel(ctx, nameOrID)
	if err != nil {
		return failure("channel lookup failed: %v", err)
	}
	if ch == nil {
		return failure("channel %q not found", nameOrID)
	}

	changed, err := m.store.ArchiveChannel(ctx, ch.ID)
	if err != nil {
		return failure("archive failed: %v", err)
	}
	if !changed {
		return failure("channel #%s is already archived", ch.Name)
	}
	return Result{Success: true, Message: fmt.Sprintf("Archived #%s", ch.Name), ChannelID: ch.ID.String()}
}

// Send posts a message as the bound identity. Requires active membership.
func (m *Manager) Send(ctx context.Context, nameOrID, content string) Result {
	ch, fail := m.resolveActive(ctx, nameOrID)
	if fail != nil {
		return *fail
	}

	isMember, err := m.store.IsMember(ctx, ch.ID, m.assistantID)
	if err != nil {
		return failure("membership check failed: %v", err)
	}
	if !isMember {
		return failure("not a member of #%s; join first", ch.Name)
	}

	msg, err := m.store.SendMessage(ctx, ch.ID, m.assistantID, m.assistantName, content)
	if err != nil {
		return failure("send failed: %v", err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Sent to #%s (message %s)", ch.Name, msg.ID), ChannelID: ch.ID.String()}
}

// SendAs posts a message on behalf of another identity, typically a
// person relayed through the gateway. The sender is auto-joined as a
// person member on first post; the bound identity's own membership is
// not required.
func (m *Manager) SendAs(ctx context.Context, nameOrID, content, senderID, senderName string) Result {
	ch, fail := m.resolveActive(ctx, nameOrID)
	if fail != nil {
		return *fail
	}

	isMember, err := m.store.IsMember(ctx, ch.ID, senderID)
	if err != nil {
		return failure("membership check failed: %v", err)
	}
	if !isMember {
		if err := m.store.AddMember(ctx, &store.ChannelMemberData{
			ChannelID:  ch.ID,
			MemberID:   senderID,
			MemberName: senderName,
			Role:       store.RoleMember,
			MemberType: store.MemberTypePerson,
		}); err != nil {
			return failure("auto-join failed: %v", err)
		}
	}

	msg, err := m.store.SendMessage(ctx, ch.ID, senderID, senderName, content)
	if err != nil {
		return failure("send failed: %v", err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Sent to #%s (message %s)", ch.Name, msg.ID), ChannelID: ch.ID.String()}
}

// ReadMessages fetches recent messages and advances the bound
// identity's read cursor to the newest fetched message's timestamp.
// Marking at that timestamp, not "now", keeps a message that lands
// between the fetch and the mark from being skipped.
func (m *Manager) ReadMessages(ctx context.Context, nameOrID string, limit int) ([]store.ChannelMessageData, Result) {
	ch, err := m.store.ResolveChannel(ctx, nameOrID)
	if err != nil {
		return nil, failure("channel lookup failed: %v", err)
	}
	if ch == nil {
		return nil, failure("channel %q not found", nameOrID)
	}

	isMember, err := m.store.IsMember(ctx, ch.ID, m.assistantID)
	if err != nil {
		return nil, failure("membership check failed: %v", err)
	}
	if !isMember {
		return nil, failure("not a member of #%s", ch.Name)
	}

	msgs, err := m.store.GetMessages(ctx, ch.ID, store.MessageQueryOpts{Limit: limit})
	if err != nil {
		return nil, failure("read failed: %v", err)
	}

	if len(msgs) > 0 {
		newest := msgs[len(msgs)-1].CreatedAt
		if err := m.store.MarkReadAt(ctx, ch.ID, m.assistantID, newest); err != nil {
			return nil, failure("mark read failed: %v", err)
		}
	}

	return msgs, Result{Success: true, Message: fmt.Sprintf("%d messages from #%s", len(msgs), ch.Name), ChannelID: ch.ID.String()}
}

// ListChannels lists the bound identity's channels with activity stats.
func (m *Manager) ListChannels(ctx context.Context) ([]store.ChannelOverview, error) {
	return m.store.ListChannels(ctx, store.ChannelListOpts{
		Status:   store.ChannelStatusActive,
		MemberID: m.assistantID,
	})
}

// Cleanup applies the configured retention policy.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	p := m.policy()
	return m.store.Cleanup(ctx, p.RetentionMaxAgeDays, p.RetentionMaxMessages)
}
