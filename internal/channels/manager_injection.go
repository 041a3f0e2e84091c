package channels

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coterie-ai/coterie/internal/store"
)

// GetUnreadForInjection returns up to maxPerTurn unread messages across
// all of the bound identity's channels, oldest first. Returns nil when
// injection is disabled.
func (m *Manager) GetUnreadForInjection(ctx context.Context) ([]store.ChannelMessageData, error) {
	p := m.policy()
	if !p.InjectionEnabled {
		return nil, nil
	}
	maxPerTurn := p.InjectionMaxPerTurn
	if maxPerTurn <= 0 {
		maxPerTurn = 10
	}
	return m.store.GetAllUnreadMessages(ctx, m.assistantID, maxPerTurn)
}

// BuildInjectionContext renders unread messages as a markdown block,
// one section per channel, for prepending to the assistant's prompt.
// Empty input yields an empty string.
func (m *Manager) BuildInjectionContext(ctx context.Context, msgs []store.ChannelMessageData) string {
	if len(msgs) == 0 {
		return ""
	}

	byChannel := make(map[uuid.UUID][]store.ChannelMessageData)
	var order []uuid.UUID
	for _, msg := range msgs {
		if _, ok := byChannel[msg.ChannelID]; !ok {
			order = append(order, msg.ChannelID)
		}
		byChannel[msg.ChannelID] = append(byChannel[msg.ChannelID], msg)
	}

	now := time.Now().UTC()
	var b strings.Builder
	b.WriteString("## Unread channel messages\n")

	for _, chID := range order {
		name := chID.String()
		if ch, err := m.store.GetChannel(ctx, chID); err == nil && ch != nil {
			name = ch.Name
		}

		group := byChannel[chID]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})

		fmt.Fprintf(&b, "\n### #%s (%d unread)\n", name, len(group))
		for _, msg := range group {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", timeAgo(now, msg.CreatedAt), msg.SenderName, msg.Content)
		}
	}

	b.WriteString("\nReply in a channel with the channel send tool if a response is warranted; otherwise continue with the current task.\n")
	return b.String()
}

// MarkInjected advances the read cursor once per distinct channel, to
// the maximum timestamp seen for that channel in the given batch.
func (m *Manager) MarkInjected(ctx context.Context, msgs []store.ChannelMessageData) error {
	latest := make(map[uuid.UUID]time.Time)
	for _, msg := range msgs {
		if msg.CreatedAt.After(latest[msg.ChannelID]) {
			latest[msg.ChannelID] = msg.CreatedAt
		}
	}
	for chID, ts := range latest {
		if err := m.store.MarkReadAt(ctx, chID, m.assistantID, ts); err != nil {
			return fmt.Errorf("mark injected %s: %w", chID, err)
		}
	}
	return nil
}

// timeAgo buckets an age into seconds, minutes, hours or days.
func timeAgo(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		s := int(d.Seconds())
		if s < 1 {
			s = 1
		}
		return fmt.Sprintf("%ds ago", s)
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
