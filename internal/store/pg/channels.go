package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/coterie-ai/coterie/internal/store"
)

// PGChannelStore implements store.ChannelStore backed by Postgres.
type PGChannelStore struct {
	db *sql.DB
}

func NewPGChannelStore(db *sql.DB) *PGChannelStore {
	return &PGChannelStore{db: db}
}

// --- Column constants ---

const channelSelectCols = `id, name, description, created_by, created_by_name, status, created_at, updated_at`

const messageSelectCols = `id, channel_id, sender_id, sender_name, content, created_at`

// ============================================================
// Channel CRUD
// ============================================================

func (s *PGChannelStore) CreateChannel(ctx context.Context, name, description, creatorID, creatorName string) (*store.ChannelData, error) {
	normalized, err := store.NormalizeChannelName(name)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM channels WHERE name = $1)`, normalized).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, store.ErrChannelExists
	}

	now := time.Now().UTC()
	ch := &store.ChannelData{
		ID:            store.GenNewID(),
		Name:          normalized,
		Description:   description,
		CreatedBy:     creatorID,
		CreatedByName: creatorName,
		Status:        store.ChannelStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channels (id, name, description, created_by, created_by_name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ch.ID, ch.Name, ch.Description, ch.CreatedBy, ch.CreatedByName,
		ch.Status, ch.CreatedAt, ch.UpdatedAt,
	); err != nil {
		return nil, err
	}

	// The creator is always the channel owner.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, member_id, member_name, role, member_type, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ch.ID, creatorID, creatorName, store.RoleOwner, store.MemberTypeAssistant, now,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *PGChannelStore) GetChannel(ctx context.Context, id uuid.UUID) (*store.ChannelData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelSelectCols+` FROM channels WHERE id = $1`, id)
	return scanChannelRow(row)
}

func (s *PGChannelStore) GetChannelByName(ctx context.Context, name string) (*store.ChannelData, error) {
	normalized, err := store.NormalizeChannelName(name)
	if err != nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelSelectCols+` FROM channels WHERE name = $1`, normalized)
	return scanChannelRow(row)
}

func (s *PGChannelStore) ResolveChannel(ctx context.Context, nameOrID string) (*store.ChannelData, error) {
	if id, err := uuid.Parse(nameOrID); err == nil {
		ch, err := s.GetChannel(ctx, id)
		if err != nil || ch != nil {
			return ch, err
		}
	}
	return s.GetChannelByName(ctx, nameOrID)
}

func (s *PGChannelStore) ListChannels(ctx context.Context, opts store.ChannelListOpts) ([]store.ChannelOverview, error) {
	if opts.MemberID == "" {
		return s.listAllChannels(ctx, opts.Status)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.description, c.created_by, c.created_by_name, c.status, c.created_at, c.updated_at,
		 (SELECT COUNT(*) FROM channel_members mc WHERE mc.channel_id = c.id) AS member_count,
		 lm.content, lm.created_at,
		 (SELECT COUNT(*) FROM channel_messages msg
		  WHERE msg.channel_id = c.id AND msg.sender_id <> $1
		    AND msg.created_at > COALESCE(m.last_read_at, to_timestamp(0))) AS unread_count
		 FROM channels c
		 JOIN channel_members m ON m.channel_id = c.id AND m.member_id = $1
		 LEFT JOIN LATERAL (
		   SELECT content, created_at FROM channel_messages
		   WHERE channel_id = c.id ORDER BY created_at DESC LIMIT 1
		 ) lm ON true
		 WHERE ($2 = '' OR c.status = $2)
		 ORDER BY COALESCE(lm.created_at, c.created_at) DESC, c.created_at DESC`,
		opts.MemberID, opts.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ChannelOverview
	for rows.Next() {
		var o store.ChannelOverview
		var desc, lastContent sql.NullString
		var lastAt sql.NullTime
		if err := rows.Scan(
			&o.ID, &o.Name, &desc, &o.CreatedBy, &o.CreatedByName,
			&o.Status, &o.CreatedAt, &o.UpdatedAt,
			&o.MemberCount, &lastContent, &lastAt, &o.UnreadCount,
		); err != nil {
			return nil, err
		}
		if desc.Valid {
			o.Description = desc.String
		}
		if lastContent.Valid {
			o.LastMessagePreview = store.TruncatePreview(lastContent.String)
		}
		if lastAt.Valid {
			t := lastAt.Time
			o.LastMessageAt = &t
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *PGChannelStore) listAllChannels(ctx context.Context, status string) ([]store.ChannelOverview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelSelectCols+` FROM channels
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ChannelOverview
	for rows.Next() {
		var o store.ChannelOverview
		var desc sql.NullString
		if err := rows.Scan(
			&o.ID, &o.Name, &desc, &o.CreatedBy, &o.CreatedByName,
			&o.Status, &o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if desc.Valid {
			o.Description = desc.String
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *PGChannelStore) ArchiveChannel(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		store.ChannelStatusArchived, time.Now().UTC(), id, store.ChannelStatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ============================================================
// Scan helpers
// ============================================================

func scanChannelRow(row *sql.Row) (*store.ChannelData, error) {
	var d store.ChannelData
	var desc sql.NullString
	err := row.Scan(
		&d.ID, &d.Name, &desc, &d.CreatedBy, &d.CreatedByName,
		&d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if desc.Valid {
		d.Description = desc.String
	}
	return &d, nil
}

func scanMessageRows(rows *sql.Rows) ([]store.ChannelMessageData, error) {
	var messages []store.ChannelMessageData
	for rows.Next() {
		var d store.ChannelMessageData
		if err := rows.Scan(
			&d.ID, &d.ChannelID, &d.SenderID, &d.SenderName,
			&d.Content, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, d)
	}
	return messages, rows.Err()
}
