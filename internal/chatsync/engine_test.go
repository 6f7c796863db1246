package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
)

const waitFor = 2 * time.Second

type engineHarness struct {
	t        *testing.T
	repo     *fakeRepo
	resolver *fakeResolver
	bus      *fakeBus
	engine   *Engine

	lists     chan []*Conversation
	sequences chan []*Message
	appends   chan *Message
}

func newEngineHarness(t *testing.T, repo *fakeRepo, resolver *fakeResolver) *engineHarness {
	t.Helper()

	bus := newFakeBus()
	repo.bus = bus

	h := &engineHarness{
		t:         t,
		repo:      repo,
		resolver:  resolver,
		bus:       bus,
		lists:     make(chan []*Conversation, 32),
		sequences: make(chan []*Message, 32),
		appends:   make(chan *Message, 32),
	}

	agg := NewAggregator(repo, resolver, 100)
	h.engine = NewEngine("pr-alice", repo, resolver, bus, agg, Options{
		LoadTimeout: waitFor,
	})
	h.engine.SetHandlers(Handlers{
		OnList: func(list []*Conversation) {
			h.lists <- list
		},
		OnSequence: func(_ *Conversation, _ *ChannelState, messages []*Message) {
			h.sequences <- append([]*Message(nil), messages...)
		},
		OnAppend: func(m *Message) {
			h.appends <- m
		},
	})

	require.NoError(t, h.engine.Start())
	t.Cleanup(h.engine.Close)
	return h
}

func (h *engineHarness) waitSequence() []*Message {
	h.t.Helper()
	select {
	case seq := <-h.sequences:
		return seq
	case <-time.After(waitFor):
		h.t.Fatal("timed out waiting for a sequence emission")
		return nil
	}
}

func (h *engineHarness) waitAppend() *Message {
	h.t.Helper()
	select {
	case m := <-h.appends:
		return m
	case <-time.After(waitFor):
		h.t.Fatal("timed out waiting for an append")
		return nil
	}
}

func (h *engineHarness) waitList() []*Conversation {
	h.t.Helper()
	select {
	case list := <-h.lists:
		return list
	case <-time.After(waitFor):
		h.t.Fatal("timed out waiting for a list emission")
		return nil
	}
}

func dmConversation(principal, profile string) *Conversation {
	return &Conversation{
		Kind:                 KindDM,
		CounterpartPrincipal: identity.PrincipalID(principal),
		CounterpartProfile:   identity.ProfileID(profile),
	}
}

func standardResolver() *fakeResolver {
	return newFakeResolver(
		testProfile("pr-alice", "pf-alice", "alice"),
		testProfile("pr-bob", "pf-bob", "bob"),
		testProfile("pr-carol", "pf-carol", "carol"),
	)
}

func TestEngineSelectDMLoadsHistory(t *testing.T) {
	repo := newFakeRepo()
	repo.direct = []*DirectMessage{
		textRow("m1", "pr-bob", "pr-alice", "hello", at(0)),
		textRow("m2", "pr-alice", "pr-bob", "hi", at(time.Minute)),
	}

	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))

	seq := h.waitSequence()
	require.Len(t, seq, 2)
	assert.Equal(t, "m1", seq[0].ID)
	assert.False(t, seq[0].IsSelf)
	assert.Equal(t, "m2", seq[1].ID)
	assert.True(t, seq[1].IsSelf)
}

func TestEngineRealtimeAppendForOpenDM(t *testing.T) {
	repo := newFakeRepo()
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))
	h.waitSequence()

	// Bob sends while the conversation is open
	_, err := repo.InsertDirectMessage(context.Background(), &DirectMessage{
		SenderID:    "pr-bob",
		ReceiverID:  "pr-alice",
		MessageType: string(MessageText),
		Content:     strPtr("are you there"),
	})
	require.NoError(t, err)

	m := h.waitAppend()
	assert.Equal(t, "are you there", m.Content)
	assert.Equal(t, "bob", m.SenderName)
	assert.False(t, m.IsSelf)

	require.Eventually(t, func() bool {
		return len(h.engine.ActiveSequence()) == 1
	}, waitFor, 10*time.Millisecond)

	// Arriving while open marks the thread read
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.readMarks) >= 2 // once on load, once on arrival
	}, waitFor, 10*time.Millisecond)
}

func TestEngineDuplicateEventAppliedOnce(t *testing.T) {
	repo := newFakeRepo()
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))
	h.waitSequence()

	row := textRow("m9", "pr-bob", "pr-alice", "once only", at(0))
	require.NoError(t, h.bus.Publish(context.Background(), TableDirectMessages, row.ID, row))
	require.NoError(t, h.bus.Publish(context.Background(), TableDirectMessages, row.ID, row))

	h.waitAppend()
	time.Sleep(100 * time.Millisecond)

	seq := h.engine.ActiveSequence()
	require.Len(t, seq, 1)
	assert.Equal(t, "m9", seq[0].ID)
}

func TestEngineSendProjectsStoredRow(t *testing.T) {
	repo := newFakeRepo()
	resolver := standardResolver()
	h := newEngineHarness(t, repo, resolver)
	h.waitList()

	require.NoError(t, h.engine.SetProfile(testProfile("pr-alice", "pf-alice", "alice")))
	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))
	h.waitSequence()

	require.NoError(t, h.engine.Send(SendRequest{Kind: MessageText, Content: "on my way"}))

	m := h.waitAppend()
	assert.NotEmpty(t, m.ID, "projection carries the server id")
	assert.True(t, m.IsSelf)
	assert.Equal(t, "alice", m.SenderName)
	assert.Equal(t, "on my way", m.Content)

	// The send's own echo must not double the entry
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.engine.ActiveSequence(), 1)

	repo.mu.Lock()
	require.Len(t, repo.direct, 1)
	assert.Equal(t, m.ID, repo.direct[0].ID)
	repo.mu.Unlock()
}

func TestEngineSendRefreshesConversationList(t *testing.T) {
	repo := newFakeRepo()
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.SetProfile(testProfile("pr-alice", "pf-alice", "alice")))
	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))
	h.waitSequence()

	require.NoError(t, h.engine.Send(SendRequest{Kind: MessageText, Content: "on my way"}))
	h.waitAppend()

	// The list subscription filters on receiver = self, so the sender never
	// hears its own row there; the send itself has to refresh the list
	require.Eventually(t, func() bool {
		for _, conv := range h.engine.ConversationList() {
			if conv.Kind == KindDM && conv.CounterpartPrincipal == "pr-bob" {
				return conv.LastFromSelf && conv.Preview == "on my way"
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)
}

func TestEngineSendFailureAppendsNothing(t *testing.T) {
	repo := newFakeRepo()
	repo.insertDirectErr = errors.New("insert rejected")
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.SetProfile(testProfile("pr-alice", "pf-alice", "alice")))
	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))
	h.waitSequence()

	err := h.engine.Send(SendRequest{Kind: MessageText, Content: "doomed"})
	require.Error(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.engine.ActiveSequence())
	assert.Empty(t, h.appends)
}

func TestEngineSendPreconditions(t *testing.T) {
	repo := newFakeRepo()
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	// Nothing selected yet
	err := h.engine.Send(SendRequest{Kind: MessageText, Content: "hello"})
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.ErrorIs(t, err, ErrNoActiveConversation)

	// Selected, but the profile has not resolved
	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))
	h.waitSequence()

	err = h.engine.Send(SendRequest{Kind: MessageText, Content: "hello"})
	require.ErrorAs(t, err, &precondition)
	assert.ErrorIs(t, err, ErrProfileNotReady)
}

func TestEngineSendRejectsInvalidRequest(t *testing.T) {
	repo := newFakeRepo()
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	err := h.engine.Send(SendRequest{Kind: MessageText}) // text without content
	require.Error(t, err)

	err = h.engine.Send(SendRequest{Kind: "sticker", Content: "x"})
	require.Error(t, err)
}

func TestEngineStaleLoadDiscarded(t *testing.T) {
	repo := newFakeRepo()
	repo.direct = []*DirectMessage{
		textRow("mb", "pr-bob", "pr-alice", "from bob", at(0)),
		textRow("mc", "pr-carol", "pr-alice", "from carol", at(time.Minute)),
	}
	gate := make(chan struct{})
	repo.betweenGate = gate
	repo.gatePeer = "pr-bob"

	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	// Bob's history load hangs on the gate; switching to carol before it
	// completes makes it stale
	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))
	require.NoError(t, h.engine.Select(dmConversation("pr-carol", "pf-carol")))

	seq := h.waitSequence()
	require.Len(t, seq, 1)
	assert.Equal(t, "mc", seq[0].ID)

	close(gate)
	time.Sleep(100 * time.Millisecond)

	seq = h.engine.ActiveSequence()
	require.Len(t, seq, 1, "late result for the old selection must not apply")
	assert.Equal(t, "mc", seq[0].ID)
}

func seedGroup(repo *fakeRepo) *Conversation {
	repo.groups = []*Group{{ID: "g7", Name: "Go Study Circle", MemberCount: 3}}
	repo.states["g7"] = []*ChannelState{
		{ID: "ch-general", GroupID: "g7", Name: "general", Type: ChannelText},
		{ID: "ch-lounge", GroupID: "g7", Name: "lounge", Type: ChannelVoice},
	}
	return &Conversation{Kind: KindGroup, GroupID: "g7", Name: "Go Study Circle"}
}

func TestEngineGroupSelfEchoSuppressed(t *testing.T) {
	repo := newFakeRepo()
	conv := seedGroup(repo)
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.SetProfile(testProfile("pr-alice", "pf-alice", "alice")))
	require.NoError(t, h.engine.Select(conv))
	h.waitSequence() // default text channel resolved, history applied

	require.NoError(t, h.engine.Send(SendRequest{Kind: MessageText, Content: "anyone around?"}))

	m := h.waitAppend()
	assert.True(t, m.IsSelf)

	// The channel subscription cannot filter out own sends; the router
	// drops the echo by sender profile id
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.engine.ActiveSequence(), 1)
}

func TestEngineGroupOtherSenderAppends(t *testing.T) {
	repo := newFakeRepo()
	conv := seedGroup(repo)
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.SetProfile(testProfile("pr-alice", "pf-alice", "alice")))
	require.NoError(t, h.engine.Select(conv))
	h.waitSequence()

	_, err := repo.InsertChannelMessage(context.Background(), &ChannelMessage{
		ChannelID:   "ch-general",
		GroupID:     "g7",
		SenderID:    "pf-carol",
		MessageType: string(MessageText),
		Content:     strPtr("hello all"),
	})
	require.NoError(t, err)

	m := h.waitAppend()
	assert.Equal(t, "hello all", m.Content)
	assert.Equal(t, "carol", m.SenderName)
	assert.False(t, m.IsSelf)
}

func TestEngineVoiceChannelIsTerminal(t *testing.T) {
	repo := newFakeRepo()
	conv := seedGroup(repo)
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.SetProfile(testProfile("pr-alice", "pf-alice", "alice")))
	require.NoError(t, h.engine.Select(conv))
	h.waitSequence()

	voice := repo.states["g7"][1]
	require.NoError(t, h.engine.SwitchChannel(voice))

	seq := h.waitSequence()
	assert.Empty(t, seq, "voice channels carry no history")

	err := h.engine.Send(SendRequest{Kind: MessageText, Content: "can you hear me"})
	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.ErrorIs(t, err, ErrVoiceChannel)
}

func TestEngineIrrelevantEventRefreshesListOnly(t *testing.T) {
	repo := newFakeRepo()
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()

	require.NoError(t, h.engine.Select(dmConversation("pr-bob", "pf-bob")))
	h.waitSequence()

	// Carol messages while bob's thread is open: the list refreshes but
	// bob's sequence stays untouched
	_, err := repo.InsertDirectMessage(context.Background(), &DirectMessage{
		SenderID:    "pr-carol",
		ReceiverID:  "pr-alice",
		MessageType: string(MessageText),
		Content:     strPtr("different thread"),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for {
			select {
			case list := <-h.lists:
				for _, conv := range list {
					if conv.CounterpartPrincipal == "pr-carol" {
						return true
					}
				}
			default:
				return false
			}
		}
	}, waitFor, 10*time.Millisecond)

	assert.Empty(t, h.engine.ActiveSequence())
}

func TestEngineProfileArrivalAddsGroups(t *testing.T) {
	repo := newFakeRepo()
	seedGroup(repo)
	h := newEngineHarness(t, repo, standardResolver())

	first := h.waitList()
	assert.Empty(t, first, "no DMs and no profile yet")

	require.NoError(t, h.engine.SetProfile(testProfile("pr-alice", "pf-alice", "alice")))

	require.Eventually(t, func() bool {
		list := h.engine.ConversationList()
		return len(list) == 1 && list[0].Kind == KindGroup
	}, waitFor, 10*time.Millisecond)
}

func TestEngineClosedSurfacesError(t *testing.T) {
	repo := newFakeRepo()
	h := newEngineHarness(t, repo, standardResolver())
	h.waitList()
	h.engine.Close()

	err := h.engine.Send(SendRequest{Kind: MessageText, Content: "too late"})
	assert.ErrorIs(t, err, ErrEngineClosed)

	err = h.engine.Select(dmConversation("pr-bob", "pf-bob"))
	assert.ErrorIs(t, err, ErrEngineClosed)
}
