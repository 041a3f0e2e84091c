package sqlite

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

func (s *SQLiteChannelStore) SendMessage(ctx context.Context, channelID uuid.UUID, senderID, senderName, content string) (*store.ChannelMessageData, error) {
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
	ts := toMicros(msg.CreatedAt)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO channel_messages (id, channel_id, sender_id, sender_name, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), channelID.String(), senderID, senderName, content, ts,
	); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE channels SET updated_at = ? WHERE id = ?`,
		ts, channelID.String(),
	); err != nil {
		return nil, err
	}

	// A sender's own message is never unread to them: advance their cursor.
	if _, err := tx.ExecContext(ctx,
		`UPDATE channel_members
		 SET last_read_at = MAX(COALESCE(last_read_at, 0), ?)
		 WHERE channel_id = ? AND member_id = ?`,
		ts, channelID.String(), senderID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteChannelStore) GetMessages(ctx context.Context, channelID uuid.UUID, opts store.MessageQueryOpts) ([]store.ChannelMessageData, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + messageSelectCols + ` FROM channel_messages WHERE channel_id = ?`
	args := []any{channelID.String()}
	if opts.Before != nil {
		query += ` AND created_at < ?`
		args = append(args, toMicros(*opts.Before))
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
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *SQLiteChannelStore) GetUnreadMessages(ctx context.Context, channelID uuid.UUID, memberID string) ([]store.ChannelMessageData, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT msg.id, msg.channel_id, msg.sender_id, msg.sender_name, msg.content, msg.created_at
		 FROM channel_messages msg
		 JOIN channel_members m ON m.channel_id = msg.channel_id AND m.member_id = ?2
		 WHERE msg.channel_id = ?1 AND msg.sender_id <> ?2
		   AND msg.created_at > COALESCE(m.last_read_at, 0)
		 ORDER BY msg.created_at`, channelID.String(), memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func (s *SQLiteChannelStore) GetAllUnreadMessages(ctx context.Context, memberID string, maxTotal int) ([]store.ChannelMessageData, error) {
	if maxTotal <= 0 {
		maxTotal = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT msg.id, msg.channel_id, msg.sender_id, msg.sender_name, msg.content, msg.created_at
		 FROM channel_messages msg
		 JOIN channel_members m ON m.channel_id = msg.channel_id AND m.member_id = ?1
		 JOIN channels c ON c.id = msg.channel_id AND c.status = ?2
		 WHERE msg.sender_id <> ?1
		   AND msg.created_at > COALESCE(m.last_read_at, 0)
		 ORDER BY msg.created_at
		 LIMIT `+strconv.Itoa(maxTotal), memberID, store.ChannelStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessageRows(rows)
}

func (s *SQLiteChannelStore) MarkRead(ctx context.Context, channelID uuid.UUID, memberID string) error {
	return s.MarkReadAt(ctx, channelID, memberID, time.Now().UTC())
}

func (s *SQLiteChannelStore) MarkReadAt(ctx context.Context, channelID uuid.UUID, memberID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channel_members
		 SET last_read_at = MAX(COALESCE(last_read_at, 0), ?)
		 WHERE channel_id = ? AND member_id = ?`,
		toMicros(ts), channelID.String(), memberID,
	)
	return err
}

func (s *SQLiteChannelStore) GetUnreadCounts(ctx context.Context, memberID string) (map[uuid.UUID]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.channel_id, COUNT(msg.id)
		 FROM channel_members m
		 JOIN channel_messages msg ON msg.channel_id = m.channel_id
		   AND msg.sender_id <> m.member_id
		   AND msg.created_at > COALESCE(m.last_read_at, 0)
		 WHERE m.member_id = ?
		 GROUP BY m.channel_id`, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		chID, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		counts[chID] = n
	}
	return counts, rows.Err()
}

// ============================================================
// Retention
// ============================================================

func (s *SQLiteChannelStore) Cleanup(ctx context.Context, maxAgeDays, maxMessagesPerChannel int) (int, error) {
	total := 0

	if maxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM channel_messages WHERE created_at < ?`, toMicros(cutoff))
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
			 GROUP BY channel_id HAVING COUNT(*) > ?`, maxMessagesPerChannel)
		if err != nil {
			return total, err
		}
		type overCap struct {
			id    string
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
				   WHERE channel_id = ?
				   ORDER BY created_at ASC
				   LIMIT ?)`,
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
