// internal/chatsync/sender.go
// Optimistic send pipeline: validate, write through with RETURNING, then
// project the stored row into the live sequence under its server id. The
// server id is what keeps dedup against the realtime echo a plain
// set-membership check.

package chatsync

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
)

var validate = validator.New()

// SendRequest is the payload accepted by Engine.Send
type SendRequest struct {
	Kind            MessageKind `json:"kind" validate:"required,oneof=text voice file image"`
	Content         string      `json:"content" validate:"required_if=Kind text,max=4000"`
	ReplyToID       string      `json:"reply_to_id,omitempty"`
	FileURL         string      `json:"file_url,omitempty" validate:"required_unless=Kind text,omitempty,url"`
	FileName        string      `json:"file_name,omitempty"`
	FileSize        int64       `json:"file_size,omitempty" validate:"gte=0"`
	DurationSeconds int         `json:"duration_seconds,omitempty" validate:"gte=0"`
	ViewOnce        bool        `json:"view_once,omitempty"`
	Blurred         bool        `json:"blurred,omitempty"`
}

// Validate checks the request shape before any state is touched
func (r *SendRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid send request: %w", err)
	}
	return nil
}

// sendTarget is the engine state a send needs, snapshotted on the event
// loop before the durable write happens off it
type sendTarget struct {
	conversation    *Conversation
	channel         *ChannelState
	replyTo         *ReplyRef
	senderPrincipal identity.PrincipalID
	senderProfile   identity.ProfileID
	senderName      string
	epoch           uint64
}

// performSend executes the durable write for the snapshotted target and
// returns the stored row projected as a Message. No append happens here;
// the caller posts the projection back onto the loop where dedup applies.
func (e *Engine) performSend(ctx context.Context, target sendTarget, req SendRequest) (*Message, error) {
	switch target.conversation.Kind {
	case KindDM:
		return e.performDirectSend(ctx, target, req)
	case KindGroup:
		return e.performChannelSend(ctx, target, req)
	default:
		return nil, fmt.Errorf("unknown conversation kind %q", target.conversation.Kind)
	}
}

func (e *Engine) performDirectSend(ctx context.Context, target sendTarget, req SendRequest) (*Message, error) {
	row := &DirectMessage{
		SenderID:    target.senderPrincipal,
		ReceiverID:  target.conversation.CounterpartPrincipal,
		MessageType: string(req.Kind),
		ViewOnce:    req.ViewOnce,
		Blurred:     req.Blurred,
	}
	if req.Content != "" {
		row.Content = &req.Content
	}
	if req.FileURL != "" {
		row.FileURL = &req.FileURL
	}
	if req.FileName != "" {
		row.FileName = &req.FileName
	}
	if req.FileSize > 0 {
		row.FileSize = &req.FileSize
	}
	if req.DurationSeconds > 0 {
		row.DurationSeconds = &req.DurationSeconds
	}
	if target.replyTo != nil {
		row.ReplyToID = &target.replyTo.MessageID
	}

	stored, err := e.repo.InsertDirectMessage(ctx, row)
	if err != nil {
		messagesSentTotal.WithLabelValues(string(req.Kind), "error").Inc()
		return nil, backendErr("insert direct message", err)
	}

	m := directRowToMessage(stored, target.senderPrincipal, target.conversation.Key(), nil)
	m.IsSelf = true
	m.SenderName = target.senderName
	m.ReplyTo = target.replyTo

	messagesSentTotal.WithLabelValues(string(req.Kind), "ok").Inc()
	return m, nil
}

func (e *Engine) performChannelSend(ctx context.Context, target sendTarget, req SendRequest) (*Message, error) {
	row := &ChannelMessage{
		ChannelID:   target.channel.ID,
		GroupID:     target.conversation.GroupID,
		SenderID:    target.senderProfile,
		MessageType: string(req.Kind),
	}
	if req.Content != "" {
		row.Content = &req.Content
	}
	if req.FileURL != "" {
		row.FileURL = &req.FileURL
	}
	if req.FileName != "" {
		row.FileName = &req.FileName
	}
	if req.FileSize > 0 {
		row.FileSize = &req.FileSize
	}
	if req.DurationSeconds > 0 {
		row.DurationSeconds = &req.DurationSeconds
	}
	if target.replyTo != nil {
		row.ReplyToID = &target.replyTo.MessageID
	}

	stored, err := e.repo.InsertChannelMessage(ctx, row)
	if err != nil {
		messagesSentTotal.WithLabelValues(string(req.Kind), "error").Inc()
		return nil, backendErr("insert channel message", err)
	}

	m := channelRowToMessage(stored, target.senderProfile, target.conversation.Key(), nil)
	m.IsSelf = true
	m.SenderName = target.senderName
	m.ReplyTo = target.replyTo

	messagesSentTotal.WithLabelValues(string(req.Kind), "ok").Inc()
	return m, nil
}
