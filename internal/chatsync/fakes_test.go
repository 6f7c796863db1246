package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
	"github.com/tensae-code/liqlearns-chat-engine/internal/realtime"
)

// fakeRepo is an in-memory Repository. Inserts publish to the attached bus
// the way the postgres adapter does, so engine tests see realistic echoes.
type fakeRepo struct {
	mu sync.Mutex

	direct   []*DirectMessage
	channels []*ChannelMessage
	calls    []*CallLog
	groups   []*Group
	states   map[string][]*ChannelState
	unread   map[string]int // "receiver|sender"

	readMarks []string // "receiver|sender", in call order

	bus realtime.Bus

	insertDirectErr  error
	insertChannelErr error
	listRecentErr    error
	listBetweenErr   error
	listChannelErr   error
	listCallsErr     error
	membershipsErr   error
	countMembersErr  error
	unreadErr        error
	markReadErr      error

	// When set, ListDirectMessagesBetween blocks until the channel closes
	// whenever gatePeer is one of the endpoints
	betweenGate chan struct{}
	gatePeer    identity.PrincipalID

	nextID int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		states: make(map[string][]*ChannelState),
		unread: make(map[string]int),
	}
}

func (r *fakeRepo) ListRecentDirectMessages(ctx context.Context, principal identity.PrincipalID, limit int) ([]*DirectMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listRecentErr != nil {
		return nil, r.listRecentErr
	}

	var out []*DirectMessage
	for _, row := range r.direct {
		if row.SenderID == principal || row.ReceiverID == principal {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) ListDirectMessagesBetween(ctx context.Context, a, b identity.PrincipalID) ([]*DirectMessage, error) {
	r.mu.Lock()
	gate := r.betweenGate
	gated := gate != nil && (a == r.gatePeer || b == r.gatePeer)
	r.mu.Unlock()
	if gated {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listBetweenErr != nil {
		return nil, r.listBetweenErr
	}

	var out []*DirectMessage
	for _, row := range r.direct {
		if (row.SenderID == a && row.ReceiverID == b) || (row.SenderID == b && row.ReceiverID == a) {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fakeRepo) CountUnreadDirect(ctx context.Context, receiver, sender identity.PrincipalID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreadErr != nil {
		return 0, r.unreadErr
	}
	return r.unread[string(receiver)+"|"+string(sender)], nil
}

func (r *fakeRepo) InsertDirectMessage(ctx context.Context, msg *DirectMessage) (*DirectMessage, error) {
	r.mu.Lock()
	if r.insertDirectErr != nil {
		r.mu.Unlock()
		return nil, r.insertDirectErr
	}

	stored := *msg
	r.nextID++
	stored.ID = fmt.Sprintf("d%d", r.nextID)
	stored.CreatedAt = time.Now()
	r.direct = append(r.direct, &stored)
	bus := r.bus
	r.mu.Unlock()

	if bus != nil {
		bus.Publish(ctx, TableDirectMessages, stored.ID, &stored)
	}
	return &stored, nil
}

func (r *fakeRepo) MarkDirectMessagesRead(ctx context.Context, receiver, sender identity.PrincipalID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markReadErr != nil {
		return r.markReadErr
	}
	r.readMarks = append(r.readMarks, string(receiver)+"|"+string(sender))
	for _, row := range r.direct {
		if row.ReceiverID == receiver && row.SenderID == sender {
			row.IsRead = true
		}
	}
	return nil
}

func (r *fakeRepo) GetDirectMessage(ctx context.Context, id string) (*DirectMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.direct {
		if row.ID == id {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) ListChannelMessages(ctx context.Context, channelID string) ([]*ChannelMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listChannelErr != nil {
		return nil, r.listChannelErr
	}

	var out []*ChannelMessage
	for _, row := range r.channels {
		if row.ChannelID == channelID {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fakeRepo) InsertChannelMessage(ctx context.Context, msg *ChannelMessage) (*ChannelMessage, error) {
	r.mu.Lock()
	if r.insertChannelErr != nil {
		r.mu.Unlock()
		return nil, r.insertChannelErr
	}

	stored := *msg
	r.nextID++
	stored.ID = fmt.Sprintf("c%d", r.nextID)
	stored.CreatedAt = time.Now()
	r.channels = append(r.channels, &stored)
	bus := r.bus
	r.mu.Unlock()

	if bus != nil {
		bus.Publish(ctx, TableChannelMessages, stored.ID, &stored)
	}
	return &stored, nil
}

func (r *fakeRepo) GetChannelMessage(ctx context.Context, id string) (*ChannelMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.channels {
		if row.ID == id {
			copied := *row
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) ListGroupMemberships(ctx context.Context, member identity.ProfileID) ([]*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.membershipsErr != nil {
		return nil, r.membershipsErr
	}
	return append([]*Group(nil), r.groups...), nil
}

func (r *fakeRepo) CountGroupMembers(ctx context.Context, groupID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countMembersErr != nil {
		return 0, r.countMembersErr
	}
	for _, g := range r.groups {
		if g.ID == groupID {
			return g.MemberCount, nil
		}
	}
	return 0, nil
}

func (r *fakeRepo) ListGroupChannels(ctx context.Context, groupID string) ([]*ChannelState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*ChannelState(nil), r.states[groupID]...), nil
}

func (r *fakeRepo) ListCallLogsBetween(ctx context.Context, a, b identity.ProfileID) ([]*CallLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listCallsErr != nil {
		return nil, r.listCallsErr
	}

	var out []*CallLog
	for _, c := range r.calls {
		if (c.CallerID == a && c.CalleeID == b) || (c.CallerID == b && c.CalleeID == a) {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeResolver resolves profiles from in-memory maps. Missing ids are
// silently absent from batch results, an error only for single lookups.
type fakeResolver struct {
	mu          sync.Mutex
	byPrincipal map[identity.PrincipalID]*identity.Profile
	err         error
}

func newFakeResolver(profiles ...*identity.Profile) *fakeResolver {
	r := &fakeResolver{byPrincipal: make(map[identity.PrincipalID]*identity.Profile)}
	for _, p := range profiles {
		r.byPrincipal[p.PrincipalID] = p
	}
	return r
}

func (r *fakeResolver) ByPrincipal(ctx context.Context, id identity.PrincipalID) (*identity.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if p, ok := r.byPrincipal[id]; ok {
		return p, nil
	}
	return nil, identity.ErrNotFound
}

func (r *fakeResolver) ByPrincipals(ctx context.Context, ids []identity.PrincipalID) (map[identity.PrincipalID]*identity.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[identity.PrincipalID]*identity.Profile)
	for _, id := range ids {
		if p, ok := r.byPrincipal[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *fakeResolver) ByProfile(ctx context.Context, id identity.ProfileID) (*identity.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, p := range r.byPrincipal {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (r *fakeResolver) ByProfiles(ctx context.Context, ids []identity.ProfileID) (map[identity.ProfileID]*identity.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make(map[identity.ProfileID]*identity.Profile)
	for _, id := range ids {
		for _, p := range r.byPrincipal {
			if p.ID == id {
				out[id] = p
			}
		}
	}
	return out, nil
}

// fakeBus is an in-memory Bus with synchronous filtered delivery
type fakeBus struct {
	mu   sync.Mutex
	subs []*fakeSub
	next int
}

type fakeSub struct {
	bus    *fakeBus
	id     string
	table  string
	filter realtime.Filter
	events chan realtime.Event
	once   sync.Once
}

func newFakeBus() *fakeBus {
	return &fakeBus{}
}

func (b *fakeBus) Subscribe(ctx context.Context, table string, filter realtime.Filter) (realtime.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &fakeSub{
		bus:    b,
		id:     fmt.Sprintf("sub-%d", b.next),
		table:  table,
		filter: filter,
		events: make(chan realtime.Event, 64),
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *fakeBus) Publish(ctx context.Context, table, rowID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	event := realtime.Event{Table: table, RowID: rowID, Payload: data}

	b.mu.Lock()
	subs := append([]*fakeSub(nil), b.subs...)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.table != table || !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
		}
	}
	return nil
}

func (s *fakeSub) Events() <-chan realtime.Event { return s.events }
func (s *fakeSub) ID() string                    { return s.id }

func (s *fakeSub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for i, sub := range s.bus.subs {
			if sub == s {
				s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
		close(s.events)
	})
	return nil
}

// --- fixture helpers ---

var testEpoch = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return testEpoch.Add(offset)
}

func strPtr(s string) *string { return &s }

func testProfile(principal, profile, username string) *identity.Profile {
	return &identity.Profile{
		ID:          identity.ProfileID(profile),
		PrincipalID: identity.PrincipalID(principal),
		Username:    username,
	}
}

func textRow(id, sender, receiver, content string, createdAt time.Time) *DirectMessage {
	return &DirectMessage{
		ID:          id,
		SenderID:    identity.PrincipalID(sender),
		ReceiverID:  identity.PrincipalID(receiver),
		MessageType: string(MessageText),
		Content:     strPtr(content),
		CreatedAt:   createdAt,
	}
}

func channelTextRow(id, channelID, groupID, sender, content string, createdAt time.Time) *ChannelMessage {
	return &ChannelMessage{
		ID:          id,
		ChannelID:   channelID,
		GroupID:     groupID,
		SenderID:    identity.ProfileID(sender),
		MessageType: string(MessageText),
		Content:     strPtr(content),
		CreatedAt:   createdAt,
	}
}
