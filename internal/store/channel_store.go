package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel status values.
const (
	ChannelStatusActive   = "active"
	ChannelStatusArchived = "archived"
)

// Member roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Member types.
const (
	MemberTypeAssistant = "assistant"
	MemberTypePerson    = "person"
)

// ErrChannelExists is returned by CreateChannel when the normalized name
// is already taken.
var ErrChannelExists = errors.New("channel already exists")

// ErrInvalidChannelName is returned when normalization leaves nothing usable.
var ErrInvalidChannelName = errors.New("invalid channel name")

// ChannelData is one named shared message log.
type ChannelData struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CreatedBy     string    `json:"createdBy"`
	CreatedByName string    `json:"createdByName"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ChannelMemberData is one membership row. LastReadAt is the member's
// read cursor; nil means the member has never read the channel.
type ChannelMemberData struct {
	ChannelID  uuid.UUID  `json:"channelId"`
	MemberID   string     `json:"memberId"`
	MemberName string     `json:"memberName"`
	Role       string     `json:"role"`
	MemberType string     `json:"memberType"`
	JoinedAt   time.Time  `json:"joinedAt"`
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
}

// ChannelMessageData is one immutable message.
type ChannelMessageData struct {
	ID         uuid.UUID `json:"id"`
	ChannelID  uuid.UUID `json:"channelId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ChannelOverview is a channel plus per-member activity stats,
// produced by ListChannels when a member scope is given.
type ChannelOverview struct {
	ChannelData
	MemberCount        int        `json:"memberCount"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount        int        `json:"unreadCount"`
}

// ChannelListOpts filters ListChannels. When MemberID is set the result
// is restricted to that member's channels and per-member stats are
// computed.
type ChannelListOpts struct {
	Status   string
	MemberID string
}

// MessageQueryOpts pages GetMessages. Before, when set, restricts to
// messages created strictly before that instant.
type MessageQueryOpts struct {
	Limit  int
	Before *time.Time
}

// ChannelStore is durable storage for channels, members, messages and
// read cursors. Implementations: store/pg (managed), store/sqlite
// (standalone).
type ChannelStore interface {
	CreateChannel(ctx context.Context, name, description, creatorID, creatorName string) (*ChannelData, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*ChannelData, error)
	GetChannelByName(ctx context.Context, name string) (*ChannelData, error)
	ResolveChannel(ctx context.Context, nameOrID string) (*ChannelData, error)
	ListChannels(ctx context.Context, opts ChannelListOpts) ([]ChannelOverview, error)
	ArchiveChannel(ctx context.Context, id uuid.UUID) (bool, error)

	AddMember(ctx context.Context, m *ChannelMemberData) error
	RemoveMember(ctx context.Context, channelID uuid.UUID, memberID string) error
	IsMember(ctx context.Context, channelID uuid.UUID, memberID string) (bool, error)
	GetMembers(ctx context.Context, channelID uuid.UUID) ([]ChannelMemberData, error)

	SendMessage(ctx context.Context, channelID uuid.UUID, senderID, senderName, content string) (*ChannelMessageData, error)
	GetMessages(ctx context.Context, channelID uuid.UUID, opts MessageQueryOpts) ([]ChannelMessageData, error)
	GetUnreadMessages(ctx context.Context, channelID uuid.UUID, memberID string) ([]ChannelMessageData, error)
	GetAllUnreadMessages(ctx context.Context, memberID string, maxTotal int) ([]ChannelMessageData, error)
	MarkRead(ctx context.Context, channelID uuid.UUID, memberID string) error
	MarkReadAt(ctx context.Context, channelID uuid.UUID, memberID string, ts time.Time) error
	GetUnreadCounts(ctx context.Context, memberID string) (map[uuid.UUID]int, error)

	Cleanup(ctx context.Context, maxAgeDays, maxMessagesPerChannel int) (int, error)
}

// GenNewID generates a new store entity ID.
func GenNewID() uuid.UUID {
	return uuid.New()
}

// NormalizeChannelName strips a leading '#', lowercases, maps spaces to
// '-' and drops everything outside [a-z0-9_-]. Channel name uniqueness
// is enforced on the normalized form.
func NormalizeChannelName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "#")
	name = strings.ToLower(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "", ErrInvalidChannelName
	}
	return b.String(), nil
}

// PreviewChars is the display-cell budget for last-message previews.
const PreviewChars = 100
