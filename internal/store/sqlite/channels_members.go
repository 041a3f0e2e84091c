package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/coterie-ai/coterie/internal/store"
)

// ============================================================
// Members
// ============================================================

func (s *SQLiteChannelStore) AddMember(ctx context.Context, m *store.ChannelMemberData) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, member_id, member_name, role, member_type, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel_id, member_id) DO NOTHING`,
		m.ChannelID.String(), m.MemberID, m.MemberName, m.Role, m.MemberType, toMicros(m.JoinedAt),
	)
	return err
}

func (s *SQLiteChannelStore) RemoveMember(ctx context.Context, channelID uuid.UUID, memberID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE channel_id = ? AND member_id = ?`,
		channelID.String(), memberID,
	)
	return err
}

func (s *SQLiteChannelStore) IsMember(ctx context.Context, channelID uuid.UUID, memberID string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = ? AND member_id = ?)`,
		channelID.String(), memberID).Scan(&exists)
	return exists != 0, err
}

func (s *SQLiteChannelStore) GetMembers(ctx context.Context, channelID uuid.UUID) ([]store.ChannelMemberData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, member_id, member_name, role, member_type, joined_at, last_read_at
		 FROM channel_members
		 WHERE channel_id = ?
		 ORDER BY joined_at`, channelID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []store.ChannelMemberData
	for rows.Next() {
		var d store.ChannelMemberData
		var chID string
		var joinedAt int64
		var lastRead sql.NullInt64
		if err := rows.Scan(
			&chID, &d.MemberID, &d.MemberName, &d.Role,
			&d.MemberType, &joinedAt, &lastRead,
		); err != nil {
			return nil, err
		}
		d.ChannelID, _ = uuid.Parse(chID)
		d.JoinedAt = fromMicros(joinedAt)
		if lastRead.Valid {
			t := fromMicros(lastRead.Int64)
			d.LastReadAt = &t
		}
		members = append(members, d)
	}
	return members, rows.Err()
}
