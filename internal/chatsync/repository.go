// internal/chatsync/repository.go

package chatsync

import (
	"context"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
)

// Repository is the durable-store surface the engine consumes: filtered
// selects, count-only queries, and inserts that return the stored row. The
// two message relations and the call-log relation keep separate id spaces.
type Repository interface {
	// Direct messages (principal-id keyed)
	ListRecentDirectMessages(ctx context.Context, principal identity.PrincipalID, limit int) ([]*DirectMessage, error)
	ListDirectMessagesBetween(ctx context.Context, a, b identity.PrincipalID) ([]*DirectMessage, error)
	CountUnreadDirect(ctx context.Context, receiver, sender identity.PrincipalID) (int, error)
	InsertDirectMessage(ctx context.Context, msg *DirectMessage) (*DirectMessage, error)
	MarkDirectMessagesRead(ctx context.Context, receiver, sender identity.PrincipalID) error
	GetDirectMessage(ctx context.Context, id string) (*DirectMessage, error)

	// Group channel messages (profile-id keyed)
	ListChannelMessages(ctx context.Context, channelID string) ([]*ChannelMessage, error)
	InsertChannelMessage(ctx context.Context, msg *ChannelMessage) (*ChannelMessage, error)
	GetChannelMessage(ctx context.Context, id string) (*ChannelMessage, error)

	// Groups and sub-channels
	ListGroupMemberships(ctx context.Context, member identity.ProfileID) ([]*Group, error)
	CountGroupMembers(ctx context.Context, groupID string) (int, error)
	ListGroupChannels(ctx context.Context, groupID string) ([]*ChannelState, error)

	// Call logs (profile-id keyed)
	ListCallLogsBetween(ctx context.Context, a, b identity.ProfileID) ([]*CallLog, error)
}
