// internal/chatsync/postgres.go

package chatsync

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
	"github.com/tensae-code/liqlearns-chat-engine/internal/realtime"
)

type postgresRepository struct {
	db  *sqlx.DB
	bus realtime.Bus
}

// NewPostgresRepository creates the sqlx-backed repository. Successful
// inserts publish the stored row on the realtime bus so subscribers see the
// echo; bus may be nil in tests.
func NewPostgresRepository(db *sqlx.DB, bus realtime.Bus) Repository {
	return &postgresRepository{db: db, bus: bus}
}

const directMessageColumns = `
        id, sender_id, receiver_id, message_type, content,
        file_url, file_name, file_size, duration_seconds,
        view_once, blurred, reply_to_id, is_read, created_at`

// ListRecentDirectMessages returns the newest rows where the principal is
// sender or receiver, descending, capped at limit
func (r *postgresRepository) ListRecentDirectMessages(ctx context.Context, principal identity.PrincipalID, limit int) ([]*DirectMessage, error) {
	query := `
        SELECT ` + directMessageColumns + `
        FROM direct_messages
        WHERE sender_id = $1 OR receiver_id = $1
        ORDER BY created_at DESC
        LIMIT $2`

	var messages []*DirectMessage
	if err := r.db.SelectContext(ctx, &messages, query, principal, limit); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListDirectMessagesBetween returns the full history between two principals,
// ascending by creation time
func (r *postgresRepository) ListDirectMessagesBetween(ctx context.Context, a, b identity.PrincipalID) ([]*DirectMessage, error) {
	query := `
        SELECT ` + directMessageColumns + `
        FROM direct_messages
        WHERE (sender_id = $1 AND receiver_id = $2)
           OR (sender_id = $2 AND receiver_id = $1)
        ORDER BY created_at ASC`

	var messages []*DirectMessage
	if err := r.db.SelectContext(ctx, &messages, query, a, b); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *postgresRepository) CountUnreadDirect(ctx context.Context, receiver, sender identity.PrincipalID) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM direct_messages
        WHERE receiver_id = $1 AND sender_id = $2 AND is_read = false`

	var count int
	if err := r.db.GetContext(ctx, &count, query, receiver, sender); err != nil {
		return 0, err
	}
	return count, nil
}

// InsertDirectMessage stores the row and returns it with the authoritative
// id and timestamp assigned by the database
func (r *postgresRepository) InsertDirectMessage(ctx context.Context, msg *DirectMessage) (*DirectMessage, error) {
	query := `
        INSERT INTO direct_messages (
            sender_id, receiver_id, message_type, content,
            file_url, file_name, file_size, duration_seconds,
            view_once, blurred, reply_to_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id, created_at`

	stored := *msg
	err := r.db.QueryRowContext(
		ctx, query,
		msg.SenderID, msg.ReceiverID, msg.MessageType, msg.Content,
		msg.FileURL, msg.FileName, msg.FileSize, msg.DurationSeconds,
		msg.ViewOnce, msg.Blurred, msg.ReplyToID,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, TableDirectMessages, stored.ID, &stored)
	return &stored, nil
}

func (r *postgresRepository) MarkDirectMessagesRead(ctx context.Context, receiver, sender identity.PrincipalID) error {
	query := `
        UPDATE direct_messages
        SET is_read = true
        WHERE receiver_id = $1 AND sender_id = $2 AND is_read = false`

	_, err := r.db.ExecContext(ctx, query, receiver, sender)
	return err
}

func (r *postgresRepository) GetDirectMessage(ctx context.Context, id string) (*DirectMessage, error) {
	query := `
        SELECT ` + directMessageColumns + `
        FROM direct_messages
        WHERE id = $1`

	var msg DirectMessage
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

const channelMessageColumns = `
        id, channel_id, group_id, sender_id, message_type, content,
        file_url, file_name, file_size, duration_seconds, reply_to_id, created_at`

func (r *postgresRepository) ListChannelMessages(ctx context.Context, channelID string) ([]*ChannelMessage, error) {
	query := `
        SELECT ` + channelMessageColumns + `
        FROM channel_messages
        WHERE channel_id = $1
        ORDER BY created_at ASC`

	var messages []*ChannelMessage
	if err := r.db.SelectContext(ctx, &messages, query, channelID); err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *postgresRepository) InsertChannelMessage(ctx context.Context, msg *ChannelMessage) (*ChannelMessage, error) {
	query := `
        INSERT INTO channel_messages (
            channel_id, group_id, sender_id, message_type, content,
            file_url, file_name, file_size, duration_seconds, reply_to_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id, created_at`

	stored := *msg
	err := r.db.QueryRowContext(
		ctx, query,
		msg.ChannelID, msg.GroupID, msg.SenderID, msg.MessageType, msg.Content,
		msg.FileURL, msg.FileName, msg.FileSize, msg.DurationSeconds, msg.ReplyToID,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.publish(ctx, TableChannelMessages, stored.ID, &stored)
	return &stored, nil
}

func (r *postgresRepository) GetChannelMessage(ctx context.Context, id string) (*ChannelMessage, error) {
	query := `
        SELECT ` + channelMessageColumns + `
        FROM channel_messages
        WHERE id = $1`

	var msg ChannelMessage
	if err := r.db.GetContext(ctx, &msg, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (r *postgresRepository) ListGroupMemberships(ctx context.Context, member identity.ProfileID) ([]*Group, error) {
	query := `
        SELECT g.id, g.name, g.avatar_url, g.member_count
        FROM groups g
        JOIN group_members gm ON gm.group_id = g.id
        WHERE gm.profile_id = $1
        ORDER BY gm.joined_at ASC`

	var groups []*Group
	if err := r.db.SelectContext(ctx, &groups, query, member); err != nil {
		return nil, err
	}
	return groups, nil
}

// CountGroupMembers is the authoritative count; the denormalized
// groups.member_count column can lag behind joins and leaves
func (r *postgresRepository) CountGroupMembers(ctx context.Context, groupID string) (int, error) {
	query := `SELECT COUNT(*) FROM group_members WHERE group_id = $1`

	var count int
	if err := r.db.GetContext(ctx, &count, query, groupID); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *postgresRepository) ListGroupChannels(ctx context.Context, groupID string) ([]*ChannelState, error) {
	query := `
        SELECT id, group_id, name, type
        FROM group_channels
        WHERE group_id = $1
        ORDER BY position ASC, created_at ASC`

	var channels []*ChannelState
	if err := r.db.SelectContext(ctx, &channels, query, groupID); err != nil {
		return nil, err
	}
	return channels, nil
}

func (r *postgresRepository) ListCallLogsBetween(ctx context.Context, a, b identity.ProfileID) ([]*CallLog, error) {
	query := `
        SELECT id, caller_id, callee_id, call_type, status, duration_seconds, started_at
        FROM call_logs
        WHERE (caller_id = $1 AND callee_id = $2)
           OR (caller_id = $2 AND callee_id = $1)
        ORDER BY started_at ASC`

	var logs []*CallLog
	if err := r.db.SelectContext(ctx, &logs, query, a, b); err != nil {
		return nil, err
	}
	return logs, nil
}

// publish emits the inserted row on the realtime bus. Publish failures are
// logged, not returned: the row is durable either way and subscribers
// reconcile on their next full load.
func (r *postgresRepository) publish(ctx context.Context, table, rowID string, payload interface{}) {
	if r.bus == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.bus.Publish(pubCtx, table, rowID, payload); err != nil {
		log.Printf("chatsync: failed to publish %s insert %s: %v", table, rowID, err)
	}
}
