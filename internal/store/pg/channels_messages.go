package pg

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/coterie-ai/coterie/internal/store"
)

// ============================================================
// Messages
// ============================================================

func (s *PGChannelStore) SendMessage(ctx context.Context, channelID uuid.UUID, senderID, senderName, content string) (*store.ChannelMessageData, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	msg := &store.ChannelMessageData{
		ID:         store.GenNewID(),
		ChannelID:  channelID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_messages (id, channel_id, sender_id, sender_name, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ChannelID, msg.SenderID, msg.SenderName, msg.Content, msg.CreatedAt,
	); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE channels SET updated_at = $1 WHERE id = $2`,
		msg.CreatedAt, channelID,
	); err != nil {
		return nil, err
	}

	// A sender's own message is never unread to them: advance their cursor.
	if _, err := tx.ExecContext(ctx,
		`UPDATE channel_members
		 SET last_read_at = GREATEST(COALESCE(last_read_at, to_timestamp(0)), $1)
		 WHERE channel_id = $2 AND member_id = $3`,
		msg.CreatedAt, channelID, senderID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *PGChannelStore) GetMessages(ctx context.Context, channelID uuid.UUID, opts store.MessageQueryOpts) ([]store.ChannelMessageData, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + messageSelectCols + ` FROM channel_messages WHERE channel_id = $1`
	args := []any{channelID}
	if opts.Before != nil {
		query += ` AND created_at < $2`
		args = append(args, *opts.Before)
	}
	query += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages, err := scanMessageRows(rows)
	if err != nil {
		return nil, err
	}
	reverseMessages(messages)
	return messages, nil
}

func (s *PGChannelStore) GetUnreadMessages(ctx context.Context, channelID uuid.UUID, memberID string) ([]store.ChannelMessageData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT msg.id, msg.channel_id, msg.sender_id, msg.sender_name, msg.content, msg.created_at
		 FROM channel_messages msg
		 JOIN channel_members m ON m.channel_id = msg.channel_id AND m.member_id = $2
		 WHERE msg.channel_id = $1 AND msg.sender_id <> $2
		   AND msg.created_at > COALESCE(m.last_read_at, to_timestamp(0))
		 ORDER BY msg.created_at`, channelID, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func (s *PGChannelStore) GetAllUnreadMessages(ctx context.Context, memberID string, maxTotal int) ([]store.ChannelMessageData, error) {
	if maxTotal <= 0 {
		maxTotal = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT msg.id, msg.channel_id, msg.sender_id, msg.sender_name, msg.content, msg.created_at
		 FROM channel_messages msg
		 JOIN channel_members m ON m.channel_id = msg.channel_id AND m.member_id = $1
		 JOIN channels c ON c.id = msg.channel_id AND c.status = $2
		 WHERE msg.sender_id <> $1
		   AND msg.created_at > COALESCE(m.last_read_at, to_timestamp(0))
		 ORDER BY msg.created_at
		 LIMIT `+strconv.Itoa(maxTotal), memberID, store.ChannelStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func (s *PGChannelStore) MarkRead(ctx context.Context, channelID uuid.UUID, memberID string) error {
	return s.MarkReadAt(ctx, channelID, memberID, time.Now().UTC())
}

func (s *PGChannelStore) MarkReadAt(ctx context.Context, channelID uuid.UUID, memberID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channel_members
		 SET last_read_at = GREATEST(COALESCE(last_read_at, to_timestamp(0)), $1)
		 WHERE channel_id = $2 AND member_id = $3`,
		ts, channelID, memberID,
	)
	return err
}

func (s *PGChannelStore) GetUnreadCounts(ctx context.Context, memberID string) (map[uuid.UUID]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.channel_id, COUNT(msg.id)
		 FROM channel_members m
		 JOIN channel_messages msg ON msg.channel_id = m.channel_id
		   AND msg.sender_id <> m.member_id
		   AND msg.created_at > COALESCE(m.last_read_at, to_timestamp(0))
		 WHERE m.member_id = $1
		 GROUP BY m.channel_id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ============================================================
// Retention
// ============================================================

func (s *PGChannelStore) Cleanup(ctx context.Context, maxAgeDays, maxMessagesPerChannel int) (int, error) {
	total := 0

	if maxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM channel_messages WHERE created_at < $1`, cutoff)
		if err != nil {
			return total, err
		}
		if n, err := res.RowsAffected(); err == nil {
			total += int(n)
		}
	}

	if maxMessagesPerChannel > 0 {
		rows, err := s.db.QueryContext(ctx,
			`SELECT channel_id, COUNT(*) FROM channel_messages
			 GROUP BY channel_id HAVING COUNT(*) > $1`, maxMessagesPerChannel)
		if err != nil {
			return total, err
		}
		type overCap struct {
			id    uuid.UUID
			count int
		}
		var over []overCap
		for rows.Next() {
			var o overCap
			if err := rows.Scan(&o.id, &o.count); err != nil {
				rows.Close()
				return total, err
			}
			over = append(over, o)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return total, err
		}

		for _, o := range over {
			// Delete exactly count-cap oldest, leaving exactly cap.
			res, err := s.db.ExecContext(ctx,
				`DELETE FROM channel_messages WHERE id IN (
				   SELECT id FROM channel_messages
				   WHERE channel_id = $1
				   ORDER BY created_at ASC
				   LIMIT $2)`,
				o.id, o.count-maxMessagesPerChannel)
			if err != nil {
				return total, err
			}
			if n, err := res.RowsAffected(); err == nil {
				total += int(n)
			}
		}
	}

	return total, nil
}

// ============================================================
// Helpers
// ============================================================

func reverseMessages(msgs []store.ChannelMessageData) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
