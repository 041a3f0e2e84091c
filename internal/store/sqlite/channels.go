package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/coterie-ai/coterie/internal/store"
)

// SQLiteChannelStore implements store.ChannelStore backed by SQLite.
// Timestamps are stored as unix microseconds.
type SQLiteChannelStore struct {
	db *sql.DB
}

func NewSQLiteChannelStore(db *sql.DB) *SQLiteChannelStore {
	return &SQLiteChannelStore{db: db}
}

const channelSelectCols = `id, name, description, created_by, created_by_name, status, created_at, updated_at`

const messageSelectCols = `id, channel_id, sender_id, sender_name, content, created_at`

// ============================================================
// Channel CRUD
// ============================================================

func (s *SQLiteChannelStore) CreateChannel(ctx context.Context, name, description, creatorID, creatorName string) (*store.ChannelData, error) {
	normalized, err := store.NormalizeChannelName(name)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM channels WHERE name = ?)`, normalized).Scan(&exists); err != nil {
		return nil, err
	}
	if exists != 0 {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID.String(), ch.Name, ch.Description, ch.CreatedBy, ch.CreatedByName,
		ch.Status, toMicros(now), toMicros(now),
	); err != nil {
		return nil, err
	}

	// The creator is always the channel owner.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, member_id, member_name, role, member_type, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ch.ID.String(), creatorID, creatorName, store.RoleOwner, store.MemberTypeAssistant, toMicros(now),
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *SQLiteChannelStore) GetChannel(ctx context.Context, id uuid.UUID) (*store.ChannelData, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelSelectCols+` FROM channels WHERE id = ?`, id.String())
	return scanChannelRow(row)
}

func (s *SQLiteChannelStore) GetChannelByName(ctx context.Context, name string) (*store.ChannelData, error) {
	normalized, err := store.NormalizeChannelName(name)
	if err != nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelSelectCols+` FROM channels WHERE name = ?`, normalized)
	return scanChannelRow(row)
}

func (s *SQLiteChannelStore) ResolveChannel(ctx context.Context, nameOrID string) (*store.ChannelData, error) {
	if id, err := uuid.Parse(nameOrID); err == nil {
		ch, err := s.GetChannel(ctx, id)
		if err != nil || ch != nil {
			return ch, err
		}
	}
	return s.GetChannelByName(ctx, nameOrID)
}

func (s *SQLiteChannelStore) ListChannels(ctx context.Context, opts store.ChannelListOpts) ([]store.ChannelOverview, error) {
	if opts.MemberID == "" {
		return s.listAllChannels(ctx, opts.Status)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.name, c.description, c.created_by, c.created_by_name, c.status, c.created_at, c.updated_at,
		 (SELECT COUNT(*) FROM channel_members mc WHERE mc.channel_id = c.id) AS member_count,
		 (SELECT content FROM channel_messages WHERE channel_id = c.id ORDER BY created_at DESC LIMIT 1) AS last_content,
		 (SELECT created_at FROM channel_messages WHERE channel_id = c.id ORDER BY created_at DESC LIMIT 1) AS last_at,
		 (SELECT COUNT(*) FROM channel_messages msg
		  WHERE msg.channel_id = c.id AND msg.sender_id <> ?1
		    AND msg.created_at > COALESCE(m.last_read_at, 0)) AS unread_count
		 FROM channels c
		 JOIN channel_members m ON m.channel_id = c.id AND m.member_id = ?1
		 WHERE (?2 = '' OR c.status = ?2)
		 ORDER BY COALESCE(last_at, c.created_at) DESC, c.created_at DESC`,
		opts.MemberID, opts.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ChannelOverview
	for rows.Next() {
		var o store.ChannelOverview
		var id string
		var desc, lastContent sql.NullString
		var createdAt, updatedAt int64
		var lastAt sql.NullInt64
		if err := rows.Scan(
			&id, &o.Name, &desc, &o.CreatedBy, &o.CreatedByName,
			&o.Status, &createdAt, &updatedAt,
			&o.MemberCount, &lastContent, &lastAt, &o.UnreadCount,
		); err != nil {
			return nil, err
		}
		o.ID, _ = uuid.Parse(id)
		o.CreatedAt = fromMicros(createdAt)
		o.UpdatedAt = fromMicros(updatedAt)
		if desc.Valid {
			o.Description = desc.String
		}
		if lastContent.Valid {
			o.LastMessagePreview = store.TruncatePreview(lastContent.String)
		}
		if lastAt.Valid {
			t := fromMicros(lastAt.Int64)
			o.LastMessageAt = &t
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *SQLiteChannelStore) listAllChannels(ctx context.Context, status string) ([]store.ChannelOverview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelSelectCols+` FROM channels
		 WHERE (?1 = '' OR status = ?1)
		 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []store.ChannelOverview
	for rows.Next() {
		var o store.ChannelOverview
		ch, err := scanChannelFields(rows)
		if err != nil {
			return nil, err
		}
		o.ChannelData = *ch
		result = append(result, o)
	}
	return result, rows.Err()
}

func (s *SQLiteChannelStore) ArchiveChannel(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		store.ChannelStatusArchived, toMicros(time.Now().UTC()), id.String(), store.ChannelStatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ============================================================
// Scan helpers
// ============================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannelFields(row rowScanner) (*store.ChannelData, error) {
	var d store.ChannelData
	var id string
	var desc sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(
		&id, &d.Name, &desc, &d.CreatedBy, &d.CreatedByName,
		&d.Status, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	d.ID, _ = uuid.Parse(id)
	d.CreatedAt = fromMicros(createdAt)
	d.UpdatedAt = fromMicros(updatedAt)
	if desc.Valid {
		d.Description = desc.String
	}
	return &d, nil
}

func scanChannelRow(row *sql.Row) (*store.ChannelData, error) {
	d, err := scanChannelFields(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

func scanMessageRows(rows *sql.Rows) ([]store.ChannelMessageData, error) {
	var messages []store.ChannelMessageData
	for rows.Next() {
		var d store.ChannelMessageData
		var id, channelID string
		var createdAt int64
		if err := rows.Scan(
			&id, &channelID, &d.SenderID, &d.SenderName,
			&d.Content, &createdAt,
		); err != nil {
			return nil, err
		}
		d.ID, _ = uuid.Parse(id)
		d.ChannelID, _ = uuid.Parse(channelID)
		d.CreatedAt = fromMicros(createdAt)
		messages = append(messages, d)
	}
	return messages, rows.Err()
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
