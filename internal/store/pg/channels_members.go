package pg

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

func (s *PGChannelStore) AddMember(ctx context.Context, m *store.ChannelMemberData) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_members (channel_id, member_id, member_name, role, member_type, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (channel_id, member_id) DO NOTHING`,
		m.ChannelID, m.MemberID, m.MemberName, m.Role, m.MemberType, m.JoinedAt,
	)
	return err
}

func (s *PGChannelStore) RemoveMember(ctx context.Context, channelID uuid.UUID, memberID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM channel_members WHERE channel_id = $1 AND member_id = $2`,
		channelID, memberID,
	)
	return err
}

func (s *PGChannelStore) IsMember(ctx context.Context, channelID uuid.UUID, memberID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = $1 AND member_id = $2)`,
		channelID, memberID).Scan(&exists)
	return exists, err
}

func (s *PGChannelStore) GetMembers(ctx context.Context, channelID uuid.UUID) ([]store.ChannelMemberData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, member_id, member_name, role, member_type, joined_at, last_read_at
		 FROM channel_members
		 WHERE channel_id = $1
		 ORDER BY joined_at`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []store.ChannelMemberData
	for rows.Next() {
		var d store.ChannelMemberData
		var lastRead sql.NullTime
		if err := rows.Scan(
			&d.ChannelID, &d.MemberID, &d.MemberName, &d.Role,
			&d.MemberType, &d.JoinedAt, &lastRead,
		); err != nil {
			return nil, err
		}
		if lastRead.Valid {
			t := lastRead.Time
			d.LastReadAt = &t
		}
		members = append(members, d)
	}
	return members, rows.Err()
}
