// internal/chatsync/engine.go
// Engine owns the live state for one signed-in user: the conversation list
// and the open conversation's message sequence. All state lives on a single
// event loop; components post work onto it, so handlers never preempt each
// other and the only duplication guard needed is id-set membership.

package chatsync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
	"github.com/tensae-code/liqlearns-chat-engine/internal/presence"
	"github.com/tensae-code/liqlearns-chat-engine/internal/realtime"
)

// Handlers receive engine output. They are invoked on the event loop and
// must not call back into the engine synchronously.
type Handlers struct {
	OnList     func([]*Conversation)
	OnSequence func(conv *Conversation, channel *ChannelState, messages []*Message)
	OnAppend   func(*Message)
}

// Options tunes an Engine
type Options struct {
	LoadTimeout time.Duration
	Presence    presence.Notifier
}

type Engine struct {
	repo        Repository
	resolver    identity.Resolver
	bus         realtime.Bus
	presence    presence.Notifier
	aggregator  *Aggregator
	history     *Synchronizer
	loadTimeout time.Duration

	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	handlers Handlers

	// Everything below is owned by the event loop
	principal     identity.PrincipalID
	self          *identity.Profile
	conversations []*Conversation
	active        *Conversation
	activeChannel *ChannelState
	lastChannel   map[string]string // groupID -> previously active channel id
	sequence      []*Message
	byID          map[string]*Message
	epoch         uint64
	refreshing    bool
	refreshAgain  bool

	listSub realtime.Subscription // persistent, receiver = self, feeds the list
	peerSub realtime.Subscription // per open DM peer or group channel
}

// NewEngine builds an engine for one principal. Call Start before use.
func NewEngine(principal identity.PrincipalID, repo Repository, resolver identity.Resolver, bus realtime.Bus, agg *Aggregator, opts Options) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	loadTimeout := opts.LoadTimeout
	if loadTimeout <= 0 {
		loadTimeout = 15 * time.Second
	}

	notifier := opts.Presence
	if notifier == nil {
		notifier = presence.NopNotifier{}
	}

	return &Engine{
		repo:        repo,
		resolver:    resolver,
		bus:         bus,
		presence:    notifier,
		aggregator:  agg,
		history:     NewSynchronizer(repo, resolver),
		loadTimeout: loadTimeout,
		tasks:       make(chan func(), 64),
		ctx:         ctx,
		cancel:      cancel,
		principal:   principal,
		lastChannel: make(map[string]string),
		byID:        make(map[string]*Message),
	}
}

// SetHandlers must be called before Start
func (e *Engine) SetHandlers(h Handlers) {
	e.handlers = h
}

// Start runs the event loop, opens the persistent list subscription and
// performs the initial conversation refresh
func (e *Engine) Start() error {
	sub, err := e.bus.Subscribe(e.ctx, TableDirectMessages, realtime.Filter{
		"receiver_id": string(e.principal),
	})
	if err != nil {
		e.cancel()
		return backendErr("subscribe direct messages", err)
	}
	e.listSub = sub

	e.wg.Add(2)
	go e.run()
	go e.pumpListEvents(sub)

	e.requestListRefresh()
	return nil
}

// Close tears everything down and waits for in-flight work
func (e *Engine) Close() {
	e.cancel()
	if e.listSub != nil {
		e.listSub.Close()
	}
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	defer func() {
		if e.peerSub != nil {
			e.peerSub.Close()
		}
	}()

	for {
		select {
		case task := <-e.tasks:
			task()
		case <-e.ctx.Done():
			return
		}
	}
}

// post schedules work on the event loop
func (e *Engine) post(task func()) error {
	select {
	case e.tasks <- task:
		return nil
	case <-e.ctx.Done():
		return ErrEngineClosed
	}
}

// sync-call helper: runs task on the loop and waits for it
func (e *Engine) do(task func()) error {
	done := make(chan struct{})
	err := e.post(func() {
		defer close(done)
		task()
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-e.ctx.Done():
		return ErrEngineClosed
	}
}

// SetProfile hands the engine the caller's resolved profile. The profile
// loads asynchronously after the session principal; the list refresh here is
// what fills in the group entries the first refresh had to omit.
func (e *Engine) SetProfile(p *identity.Profile) error {
	err := e.do(func() {
		e.self = p
	})
	if err != nil {
		return err
	}
	e.requestListRefresh()
	return nil
}

// ConversationList returns a snapshot of the aggregated list
func (e *Engine) ConversationList() []*Conversation {
	var out []*Conversation
	e.do(func() {
		out = append(out, e.conversations...)
	})
	return out
}

// ActiveSequence returns a snapshot of the open conversation's messages
func (e *Engine) ActiveSequence() []*Message {
	var out []*Message
	e.do(func() {
		out = append(out, e.sequence...)
	})
	return out
}

// ActiveChannel returns the open group's active sub-channel, if any
func (e *Engine) ActiveChannel() *ChannelState {
	var out *ChannelState
	e.do(func() {
		out = e.activeChannel
	})
	return out
}

// Select opens a conversation: tears down the previous selection's
// subscription, starts the history load, and re-subscribes for its events.
// A load still in flight for the previous selection is ignored when it
// lands, keyed by the selection epoch.
func (e *Engine) Select(conv *Conversation) error {
	if conv == nil {
		return &PreconditionError{Reason: ErrNoActiveConversation}
	}

	return e.do(func() {
		e.epoch++
		e.active = conv
		e.activeChannel = nil
		e.resetSequence()
		e.teardownPeerSub()

		switch conv.Kind {
		case KindDM:
			e.openDM(conv)
		case KindGroup:
			e.openGroup(conv)
		}
	})
}

// SwitchChannel activates a different sub-channel of the open group. Voice
// channels are terminal here: the selection is recorded but no history loads
// and no subscription opens; the caller redirects to the audio/video stack.
func (e *Engine) SwitchChannel(channel *ChannelState) error {
	var precondition error
	err := e.do(func() {
		if e.active == nil || e.active.Kind != KindGroup {
			precondition = ErrNoActiveConversation
			return
		}

		e.epoch++
		e.activeChannel = channel
		e.lastChannel[e.active.GroupID] = channel.ID
		e.resetSequence()
		e.teardownPeerSub()

		if channel.Type == ChannelVoice {
			e.emitSequence()
			return
		}

		e.openChannel(e.active, channel)
	})
	if err != nil {
		return err
	}
	if precondition != nil {
		return &PreconditionError{Reason: precondition}
	}
	return nil
}

// Send validates, snapshots the target on the loop, performs the durable
// write off it, and projects the stored row back in. On failure nothing is
// appended: the view never shows a message that is not durable.
func (e *Engine) Send(req SendRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	var target sendTarget
	var precondition error
	err := e.do(func() {
		if e.active == nil {
			precondition = ErrNoActiveConversation
			return
		}
		if e.self == nil {
			precondition = ErrProfileNotReady
			return
		}
		if e.active.Kind == KindGroup {
			if e.activeChannel == nil {
				precondition = ErrNoActiveConversation
				return
			}
			if e.activeChannel.Type == ChannelVoice {
				precondition = ErrVoiceChannel
				return
			}
		}

		target = sendTarget{
			conversation:    e.active,
			channel:         e.activeChannel,
			senderPrincipal: e.principal,
			senderProfile:   e.self.ID,
			senderName:      e.self.Name(),
			epoch:           e.epoch,
		}

		// The reply snapshot comes from the in-memory sequence, not a
		// fresh query; an id that is not loaded sends as a plain message
		if req.ReplyToID != "" {
			if original, ok := e.byID[req.ReplyToID]; ok {
				target.replyTo = snapshotReply(original)
			}
		}
	})
	if err != nil {
		return err
	}
	if precondition != nil {
		return &PreconditionError{Reason: precondition}
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.loadTimeout)
	defer cancel()

	msg, err := e.performSend(ctx, target, req)
	if err != nil {
		return err
	}

	// Idempotent projection: if the realtime echo got here first, the
	// id-set membership check drops this one
	return e.post(func() {
		// Own sends never arrive on the list subscription (its filter is
		// receiver = self), so the sent row refreshes the list from here
		e.scheduleListRefresh()

		if e.epoch != target.epoch {
			// Selection changed mid-send; the row is durable and the next
			// load of that conversation will show it
			return
		}
		e.appendMessage(msg)
	})
}

// InputChanged forwards the typing signal for the open conversation to the
// presence service. Never consulted by the engine's own invariants.
func (e *Engine) InputChanged(typing bool) {
	var key string
	if err := e.do(func() {
		if e.active != nil {
			key = e.active.Key()
		}
	}); err != nil {
		return
	}
	if key == "" {
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, 2*time.Second)
	defer cancel()
	if err := e.presence.TypingChanged(ctx, key, typing); err != nil {
		log.Printf("chatsync: typing signal failed: %v", err)
	}
}

// --- loop-side helpers (must only run on the event loop) ---

func (e *Engine) resetSequence() {
	e.sequence = nil
	e.byID = make(map[string]*Message)
}

func (e *Engine) teardownPeerSub() {
	if e.peerSub != nil {
		e.peerSub.Close()
		e.peerSub = nil
	}
}

// appendMessage is the single append path for both the optimistic
// projection and the realtime echo. Appending the same id twice, in either
// order, leaves exactly one entry.
func (e *Engine) appendMessage(m *Message) bool {
	if _, dup := e.byID[m.ID]; dup {
		realtimeEventsTotal.WithLabelValues(m.table(), outcomeDuplicate).Inc()
		return false
	}

	e.sequence = append(e.sequence, m)
	e.byID[m.ID] = m

	// Two rapid sends can confirm out of commit order; re-sorting after
	// every append keeps the non-decreasing invariant. Stable sort, so
	// equal timestamps keep arrival order.
	sortByTimestamp(e.sequence)

	if e.handlers.OnAppend != nil {
		e.handlers.OnAppend(m)
	}
	return true
}

func (e *Engine) applyHistory(epoch uint64, messages []*Message) {
	if epoch != e.epoch {
		// Late result for a selection that is no longer open
		return
	}

	e.resetSequence()
	for _, m := range messages {
		e.sequence = append(e.sequence, m)
		e.byID[m.ID] = m
	}
	e.emitSequence()
}

func (e *Engine) emitSequence() {
	if e.handlers.OnSequence != nil {
		e.handlers.OnSequence(e.active, e.activeChannel, e.sequence)
	}
}

func (e *Engine) openDM(conv *Conversation) {
	epoch := e.epoch

	// Subscribe before loading; the overlap between the subscription start
	// and the load result is resolved by id dedup
	sub, err := e.bus.Subscribe(e.ctx, TableDirectMessages, realtime.Filter{
		"receiver_id": string(e.principal),
		"sender_id":   string(conv.CounterpartPrincipal),
	})
	if err != nil {
		log.Printf("chatsync: peer subscription failed for %s: %v", conv.Key(), err)
	} else {
		e.peerSub = sub
		e.wg.Add(1)
		go e.pumpDirectEvents(sub, epoch)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, e.loadTimeout)
		defer cancel()

		messages, err := e.history.LoadDM(ctx, e.principal, conv.CounterpartPrincipal)
		if err != nil {
			log.Printf("chatsync: history load failed for %s: %v", conv.Key(), err)
			return
		}
		e.post(func() { e.applyHistory(epoch, messages) })
	}()
}

func (e *Engine) openGroup(conv *Conversation) {
	epoch := e.epoch

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, e.loadTimeout)
		defer cancel()

		channels, err := e.repo.ListGroupChannels(ctx, conv.GroupID)
		if err != nil {
			log.Printf("chatsync: channel resolution failed for %s: %v", conv.Key(), err)
			return
		}

		e.post(func() {
			if epoch != e.epoch {
				return
			}

			channel := defaultChannel(channels, e.lastChannel[conv.GroupID])
			if channel == nil {
				log.Printf("chatsync: group %s has no usable channel", conv.GroupID)
				e.emitSequence()
				return
			}

			e.activeChannel = channel
			e.lastChannel[conv.GroupID] = channel.ID
			e.openChannel(conv, channel)
		})
	}()
}

func (e *Engine) openChannel(conv *Conversation, channel *ChannelState) {
	epoch := e.epoch

	sub, err := e.bus.Subscribe(e.ctx, TableChannelMessages, realtime.Filter{
		"channel_id": channel.ID,
	})
	if err != nil {
		log.Printf("chatsync: channel subscription failed for %s: %v", channel.ID, err)
	} else {
		e.peerSub = sub
		e.wg.Add(1)
		go e.pumpChannelEvents(sub, epoch)
	}

	self := e.selfProfileID()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, e.loadTimeout)
		defer cancel()

		messages, err := e.history.LoadChannel(ctx, self, channel)
		if err != nil {
			log.Printf("chatsync: history load failed for channel %s: %v", channel.ID, err)
			return
		}
		e.post(func() { e.applyHistory(epoch, messages) })
	}()
}

func (e *Engine) selfProfileID() identity.ProfileID {
	if e.self == nil {
		return ""
	}
	return e.self.ID
}

// defaultChannel picks the previously active channel when it still exists,
// otherwise the first text channel
func defaultChannel(channels []*ChannelState, lastID string) *ChannelState {
	if lastID != "" {
		for _, c := range channels {
			if c.ID == lastID && c.Type != ChannelVoice {
				return c
			}
		}
	}
	for _, c := range channels {
		if c.Type == ChannelText {
			return c
		}
	}
	for _, c := range channels {
		if c.Type != ChannelVoice {
			return c
		}
	}
	return nil
}

// requestListRefresh rebuilds the conversation list off the loop and swaps
// it in. Overlapping requests collapse into one trailing refresh.
func (e *Engine) requestListRefresh() {
	e.post(func() { e.scheduleListRefresh() })
}

// scheduleListRefresh is the loop-side entry; tasks already running on the
// loop call it directly instead of posting
func (e *Engine) scheduleListRefresh() {
	if e.refreshing {
		e.refreshAgain = true
		return
	}
	e.refreshing = true
	e.startListRefresh()
}

func (e *Engine) startListRefresh() {
	principal := e.principal
	profile := e.selfProfileID()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, e.loadTimeout)
		defer cancel()

		list := e.aggregator.Refresh(ctx, principal, profile)

		e.post(func() {
			e.conversations = list
			if e.handlers.OnList != nil {
				e.handlers.OnList(list)
			}

			if e.refreshAgain {
				e.refreshAgain = false
				e.startListRefresh()
				return
			}
			e.refreshing = false
		})
	}()
}
