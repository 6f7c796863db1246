// internal/chatsync/models.go

package chatsync

import (
	"fmt"
	"time"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
)

// Table names of the two message relations and the call-log relation. Each
// has its own id space; only call logs are projected into the message view
// under a namespaced id.
const (
	TableDirectMessages  = "direct_messages"
	TableChannelMessages = "channel_messages"
	TableCallLogs        = "call_logs"
)

// ConversationKind discriminates the conversation union
type ConversationKind string

const (
	KindDM    ConversationKind = "dm"
	KindGroup ConversationKind = "group"
)

// Conversation is one entry of the aggregated list. It is a derived,
// disposable view: rebuilt from scratch on every refresh, never persisted.
type Conversation struct {
	Kind ConversationKind `json:"kind"`

	// DM identity: the counterpart in both id spaces. The principal id keys
	// message queries, the profile id keys call-log queries.
	CounterpartPrincipal identity.PrincipalID `json:"counterpart_principal_id,omitempty"`
	CounterpartProfile   identity.ProfileID   `json:"counterpart_profile_id,omitempty"`

	// Group identity
	GroupID     string `json:"group_id,omitempty"`
	MemberCount int    `json:"member_count,omitempty"`

	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`

	Preview       string    `json:"preview"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`

	// Delivery state of the most recent message when self-authored
	LastFromSelf bool `json:"last_from_self"`
	LastSelfRead bool `json:"last_self_read,omitempty"`
}

// Key uniquely identifies a conversation within the aggregated list
func (c *Conversation) Key() string {
	if c.Kind == KindGroup {
		return "group:" + c.GroupID
	}
	return "dm:" + string(c.CounterpartPrincipal)
}

// ChannelType discriminates group sub-channels
type ChannelType string

const (
	ChannelText         ChannelType = "text"
	ChannelVoice        ChannelType = "voice"
	ChannelAnnouncement ChannelType = "announcement"
)

// ChannelState is the active sub-channel of an open group conversation
type ChannelState struct {
	ID      string      `json:"id" db:"id"`
	GroupID string      `json:"group_id" db:"group_id"`
	Name    string      `json:"name" db:"name"`
	Type    ChannelType `json:"type" db:"type"`
}

// MessageKind discriminates the message union. The set is closed: every
// switch over it carries a default that flags the unknown kind instead of
// guessing.
type MessageKind string

const (
	MessageText  MessageKind = "text"
	MessageVoice MessageKind = "voice"
	MessageFile  MessageKind = "file"
	MessageImage MessageKind = "image"
	MessageCall  MessageKind = "call"
)

// ReplyRef is a snapshot of the replied-to message captured when the
// referencing message is loaded or sent. It is a value, not a live pointer:
// later edits to the original do not flow into it.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
}

// Message is one entry of the live sequence for the open conversation
type Message struct {
	ID              string      `json:"id"`
	Kind            MessageKind `json:"kind"`
	ConversationKey string      `json:"conversation_key"`
	ChannelID       string      `json:"channel_id,omitempty"`

	SenderName   string  `json:"sender_name"`
	SenderAvatar *string `json:"sender_avatar,omitempty"`
	IsSelf       bool    `json:"is_self"`
	IsRead       bool    `json:"is_read"`

	Content string    `json:"content,omitempty"`
	ReplyTo *ReplyRef `json:"reply_to,omitempty"`

	// Voice / file / image payload
	FileURL         string `json:"file_url,omitempty"`
	FileName        string `json:"file_name,omitempty"`
	FileSize        int64  `json:"file_size,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	ViewOnce        bool   `json:"view_once,omitempty"`
	Blurred         bool   `json:"blurred,omitempty"`

	// Call payload
	CallType   string `json:"call_type,omitempty"`
	CallStatus string `json:"call_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Preview renders the one-line conversation-list preview for the message
func (m *Message) Preview() string {
	switch m.Kind {
	case MessageText:
		return m.Content
	case MessageVoice:
		return "Sent a voice note"
	case MessageImage:
		return "Sent a photo"
	case MessageFile:
		return "Sent a file"
	case MessageCall:
		if m.CallStatus == "missed" {
			return "Missed call"
		}
		return "Call"
	default:
		return "Sent a message"
	}
}

// table reports which relation the message was projected from, for the
// event-outcome metric labels
func (m *Message) table() string {
	if m.ChannelID != "" {
		return TableChannelMessages
	}
	return TableDirectMessages
}

// CallMessageID namespaces call-log ids so a projected call can never
// collide with a message-table id.
func CallMessageID(logID string) string {
	return "call_" + logID
}

// DirectMessage is a row of the direct_messages relation, keyed by
// principal ids on both ends
type DirectMessage struct {
	ID              string               `json:"id" db:"id"`
	SenderID        identity.PrincipalID `json:"sender_id" db:"sender_id"`
	ReceiverID      identity.PrincipalID `json:"receiver_id" db:"receiver_id"`
	MessageType     string               `json:"message_type" db:"message_type"`
	Content         *string              `json:"content,omitempty" db:"content"`
	FileURL         *string              `json:"file_url,omitempty" db:"file_url"`
	FileName        *string              `json:"file_name,omitempty" db:"file_name"`
	FileSize        *int64               `json:"file_size,omitempty" db:"file_size"`
	DurationSeconds *int                 `json:"duration_seconds,omitempty" db:"duration_seconds"`
	ViewOnce        bool                 `json:"view_once" db:"view_once"`
	Blurred         bool                 `json:"blurred" db:"blurred"`
	ReplyToID       *string              `json:"reply_to_id,omitempty" db:"reply_to_id"`
	IsRead          bool                 `json:"is_read" db:"is_read"`
	CreatedAt       time.Time            `json:"created_at" db:"created_at"`
}

// ChannelMessage is a row of the channel_messages relation, keyed by the
// sender's profile id rather than the principal id DirectMessage uses
type ChannelMessage struct {
	ID              string             `json:"id" db:"id"`
	ChannelID       string             `json:"channel_id" db:"channel_id"`
	GroupID         string             `json:"group_id" db:"group_id"`
	SenderID        identity.ProfileID `json:"sender_id" db:"sender_id"`
	MessageType     string             `json:"message_type" db:"message_type"`
	Content         *string            `json:"content,omitempty" db:"content"`
	FileURL         *string            `json:"file_url,omitempty" db:"file_url"`
	FileName        *string            `json:"file_name,omitempty" db:"file_name"`
	FileSize        *int64             `json:"file_size,omitempty" db:"file_size"`
	DurationSeconds *int               `json:"duration_seconds,omitempty" db:"duration_seconds"`
	ReplyToID       *string            `json:"reply_to_id,omitempty" db:"reply_to_id"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

// CallLog is a row of the call_logs relation, keyed by profile ids
type CallLog struct {
	ID              string             `json:"id" db:"id"`
	CallerID        identity.ProfileID `json:"caller_id" db:"caller_id"`
	CalleeID        identity.ProfileID `json:"callee_id" db:"callee_id"`
	CallType        string             `json:"call_type" db:"call_type"`
	Status          string             `json:"status" db:"status"`
	DurationSeconds int                `json:"duration_seconds" db:"duration_seconds"`
	StartedAt       time.Time          `json:"started_at" db:"started_at"`
}

// Group is a group the user belongs to, as returned by the membership query
type Group struct {
	ID          string  `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	AvatarURL   *string `json:"avatar_url,omitempty" db:"avatar_url"`
	MemberCount int     `json:"member_count" db:"member_count"` // denormalized, possibly stale
}

// MessageKindOf maps a stored message_type to the closed kind set
func MessageKindOf(messageType string) (MessageKind, error) {
	switch MessageKind(messageType) {
	case MessageText, MessageVoice, MessageFile, MessageImage:
		return MessageKind(messageType), nil
	default:
		return MessageText, fmt.Errorf("unknown message type %q", messageType)
	}
}
