// internal/chatsync/router.go
// Routes realtime bus events into the engine. Each subscription has a pump
// goroutine that decodes the row, enriches it off the loop, and posts the
// result in. The loop itself never blocks on a decode or a profile lookup.

package chatsync

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
	"github.com/tensae-code/liqlearns-chat-engine/internal/realtime"
)

// pumpListEvents consumes the persistent receiver-side subscription. These
// events never touch the live sequence directly; the open peer's own
// subscription covers that. Their only job is keeping the list fresh.
func (e *Engine) pumpListEvents(sub realtime.Subscription) {
	defer e.wg.Done()

	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
			realtimeEventsTotal.WithLabelValues(TableDirectMessages, outcomeApplied).Inc()
			e.requestListRefresh()
		case <-e.ctx.Done():
			return
		}
	}
}

// pumpDirectEvents consumes the open DM peer's subscription. The filter
// already excludes the user's own sends (receiver = self), so everything
// arriving here is counterpart traffic.
func (e *Engine) pumpDirectEvents(sub realtime.Subscription, epoch uint64) {
	defer e.wg.Done()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			e.handleDirectEvent(event, epoch)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) handleDirectEvent(event realtime.Event, epoch uint64) {
	var row DirectMessage
	if err := json.Unmarshal(event.Payload, &row); err != nil {
		log.Printf("chatsync: malformed direct message event %s: %v", event.RowID, err)
		realtimeEventsTotal.WithLabelValues(TableDirectMessages, outcomeMalformed).Inc()
		return
	}

	msg := e.enrichDirect(&row)

	e.post(func() {
		if epoch != e.epoch {
			realtimeEventsTotal.WithLabelValues(TableDirectMessages, outcomeIrrelevant).Inc()
			e.scheduleListRefresh()
			return
		}
		if e.appendMessage(msg) {
			realtimeEventsTotal.WithLabelValues(TableDirectMessages, outcomeApplied).Inc()
		}

		// Receiving while the conversation is open means the row is read
		// from this side's point of view; persist that, failure tolerated
		e.markActiveDirectRead(row.SenderID)
	})
}

// enrichDirect builds a sequence entry from a single inserted row: one
// sender lookup plus the reply snapshot. Runs off the event loop.
func (e *Engine) enrichDirect(row *DirectMessage) *Message {
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()

	profiles := make(map[identity.PrincipalID]*identity.Profile)
	if p, err := e.resolver.ByPrincipal(ctx, row.SenderID); err == nil {
		profiles[row.SenderID] = p
	} else {
		log.Printf("chatsync: sender resolution failed for %s: %v", row.SenderID, err)
	}

	convKey := "dm:" + string(row.SenderID)
	msg := directRowToMessage(row, e.principal, convKey, profiles)
	msg.ReplyTo = e.resolveReply(ctx, row.ReplyToID, e.fetchDirectOriginal)
	return msg
}

// pumpChannelEvents consumes the open group channel's subscription. Unlike
// the DM filter, the channel filter cannot exclude the user's own sends, so
// self-suppression happens here by sender profile id.
func (e *Engine) pumpChannelEvents(sub realtime.Subscription, epoch uint64) {
	defer e.wg.Done()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			e.handleChannelEvent(event, epoch)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) handleChannelEvent(event realtime.Event, epoch uint64) {
	var row ChannelMessage
	if err := json.Unmarshal(event.Payload, &row); err != nil {
		log.Printf("chatsync: malformed channel message event %s: %v", event.RowID, err)
		realtimeEventsTotal.WithLabelValues(TableChannelMessages, outcomeMalformed).Inc()
		return
	}

	var self identity.ProfileID
	var convKey string
	stale := e.do(func() {
		self = e.selfProfileID()
		if e.active != nil {
			convKey = e.active.Key()
		}
	}) != nil
	if stale {
		return
	}

	// Own sends come back on the channel subscription too; the optimistic
	// projection already holds them, so the echo is dropped before it ever
	// reaches the sequence. Dedup would catch it anyway, but only when the
	// projection landed first.
	if self != "" && row.SenderID == self {
		realtimeEventsTotal.WithLabelValues(TableChannelMessages, outcomeSelf).Inc()
		return
	}

	msg := e.enrichChannel(&row, self, convKey)

	e.post(func() {
		if epoch != e.epoch {
			realtimeEventsTotal.WithLabelValues(TableChannelMessages, outcomeIrrelevant).Inc()
			e.scheduleListRefresh()
			return
		}
		if e.appendMessage(msg) {
			realtimeEventsTotal.WithLabelValues(TableChannelMessages, outcomeApplied).Inc()
		}
	})
}

func (e *Engine) enrichChannel(row *ChannelMessage, self identity.ProfileID, convKey string) *Message {
	ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
	defer cancel()

	profiles := make(map[identity.ProfileID]*identity.Profile)
	if p, err := e.resolver.ByProfile(ctx, row.SenderID); err == nil {
		profiles[row.SenderID] = p
	} else {
		log.Printf("chatsync: sender resolution failed for %s: %v", row.SenderID, err)
	}

	msg := channelRowToMessage(row, self, convKey, profiles)
	msg.ReplyTo = e.resolveReply(ctx, row.ReplyToID, e.fetchChannelOriginal)
	return msg
}

// resolveReply snapshots the replied-to message for an incoming event:
// first from the in-memory sequence, then a single-row fetch. A missing
// original drops the reply context, never the message.
func (e *Engine) resolveReply(ctx context.Context, replyToID *string, fetch func(context.Context, string) (*Message, error)) *ReplyRef {
	if replyToID == nil || *replyToID == "" {
		return nil
	}

	var cached *Message
	if err := e.do(func() {
		cached = e.byID[*replyToID]
	}); err != nil {
		return nil
	}
	if cached != nil {
		return snapshotReply(cached)
	}

	original, err := fetch(ctx, *replyToID)
	if err != nil {
		log.Printf("chatsync: reply lookup failed for %s: %v", *replyToID, err)
		return nil
	}
	if original == nil {
		return nil
	}
	return snapshotReply(original)
}

func (e *Engine) fetchDirectOriginal(ctx context.Context, id string) (*Message, error) {
	row, err := e.repo.GetDirectMessage(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}

	profiles := make(map[identity.PrincipalID]*identity.Profile)
	if p, perr := e.resolver.ByPrincipal(ctx, row.SenderID); perr == nil {
		profiles[row.SenderID] = p
	}
	return directRowToMessage(row, e.principal, "", profiles), nil
}

func (e *Engine) fetchChannelOriginal(ctx context.Context, id string) (*Message, error) {
	row, err := e.repo.GetChannelMessage(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}

	profiles := make(map[identity.ProfileID]*identity.Profile)
	if p, perr := e.resolver.ByProfile(ctx, row.SenderID); perr == nil {
		profiles[row.SenderID] = p
	}
	return channelRowToMessage(row, "", "", profiles), nil
}

// markActiveDirectRead persists the read mark for a row that arrived while
// its conversation is open. Loop-side caller; the write itself runs off it.
func (e *Engine) markActiveDirectRead(sender identity.PrincipalID) {
	if e.active == nil || e.active.Kind != KindDM || e.active.CounterpartPrincipal != sender {
		return
	}

	self := e.principal
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
		defer cancel()

		if err := e.repo.MarkDirectMessagesRead(ctx, self, sender); err != nil {
			log.Printf("chatsync: read mark failed for %s: %v", sender, err)
		}
	}()
}
