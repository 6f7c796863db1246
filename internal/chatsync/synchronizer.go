// internal/chatsync/synchronizer.go

package chatsync

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
)

// Synchronizer performs the full history load for one conversation. Calling
// it twice for the same conversation produces a full replacement, never an
// append; the engine swaps the live sequence wholesale with the result.
type Synchronizer struct {
	repo     Repository
	resolver identity.Resolver
}

func NewSynchronizer(repo Repository, resolver identity.Resolver) *Synchronizer {
	return &Synchronizer{repo: repo, resolver: resolver}
}

// LoadDM assembles the timeline between the caller and one counterpart:
// message rows keyed by principal id, call logs keyed by profile id, merged
// ascending. After the sequence is built, rows addressed to the caller are
// marked read; a failure there is logged and never fails the load.
func (s *Synchronizer) LoadDM(ctx context.Context, self, counterpart identity.PrincipalID) ([]*Message, error) {
	started := time.Now()

	rows, err := s.repo.ListDirectMessagesBetween(ctx, self, counterpart)
	if err != nil {
		historyLoadsTotal.WithLabelValues(string(KindDM), "error").Inc()
		return nil, backendErr("load direct messages", err)
	}

	// One batched lookup covers every sender plus both endpoints. The
	// counterpart's profile id comes out of this map: it is resolved from
	// their principal id, never conflated with it.
	principals := distinctPrincipals(rows, self, counterpart)
	profiles, err := s.resolver.ByPrincipals(ctx, principals)
	if err != nil {
		historyLoadsTotal.WithLabelValues(string(KindDM), "error").Inc()
		return nil, backendErr("resolve senders", err)
	}

	convKey := "dm:" + string(counterpart)
	messages := make([]*Message, 0, len(rows))
	byID := make(map[string]*Message, len(rows))

	for _, row := range rows {
		m := directRowToMessage(row, self, convKey, profiles)
		messages = append(messages, m)
		byID[m.ID] = m
	}

	// Reply snapshots resolve against the batch just loaded, not a second
	// query. A reply whose original fell outside the batch renders as an
	// unreferenced message.
	for i, row := range rows {
		if row.ReplyToID == nil {
			continue
		}
		if original, ok := byID[*row.ReplyToID]; ok {
			messages[i].ReplyTo = snapshotReply(original)
		}
	}

	// Call logs live in the profile-id space. If either profile is missing
	// the call history is omitted, not an error.
	selfProfile, okSelf := profiles[self]
	peerProfile, okPeer := profiles[counterpart]
	if okSelf && okPeer {
		calls, err := s.repo.ListCallLogsBetween(ctx, selfProfile.ID, peerProfile.ID)
		if err != nil {
			log.Printf("chatsync: call logs unavailable for %s: %v", convKey, err)
		} else {
			for _, call := range calls {
				messages = append(messages, callToMessage(call, selfProfile.ID, convKey, callSenderName(selfProfile, peerProfile, call)))
			}
		}
	}

	sortByTimestamp(messages)

	// Read marking is a side effect of viewing the history
	if err := s.repo.MarkDirectMessagesRead(ctx, self, counterpart); err != nil {
		log.Printf("chatsync: failed to mark %s read: %v", convKey, err)
	}

	historyLoadsTotal.WithLabelValues(string(KindDM), "ok").Inc()
	historyLoadSeconds.Observe(time.Since(started).Seconds())
	return messages, nil
}

// LoadChannel assembles one group channel's timeline. Group senders are
// keyed by profile id throughout, the opposite of the DM case.
func (s *Synchronizer) LoadChannel(ctx context.Context, self identity.ProfileID, channel *ChannelState) ([]*Message, error) {
	if channel.Type == ChannelVoice {
		return nil, ErrVoiceChannel
	}

	started := time.Now()

	rows, err := s.repo.ListChannelMessages(ctx, channel.ID)
	if err != nil {
		historyLoadsTotal.WithLabelValues(string(KindGroup), "error").Inc()
		return nil, backendErr("load channel messages", err)
	}

	senders := distinctProfiles(rows, self)
	profiles, err := s.resolver.ByProfiles(ctx, senders)
	if err != nil {
		historyLoadsTotal.WithLabelValues(string(KindGroup), "error").Inc()
		return nil, backendErr("resolve senders", err)
	}

	convKey := "group:" + channel.GroupID
	messages := make([]*Message, 0, len(rows))
	byID := make(map[string]*Message, len(rows))

	for _, row := range rows {
		m := channelRowToMessage(row, self, convKey, profiles)
		messages = append(messages, m)
		byID[m.ID] = m
	}

	// Same snapshot rule as DMs, against the single self-referencing
	// relation
	for i, row := range rows {
		if row.ReplyToID == nil {
			continue
		}
		if original, ok := byID[*row.ReplyToID]; ok {
			messages[i].ReplyTo = snapshotReply(original)
		}
	}

	sortByTimestamp(messages)

	historyLoadsTotal.WithLabelValues(string(KindGroup), "ok").Inc()
	historyLoadSeconds.Observe(time.Since(started).Seconds())
	return messages, nil
}

// sortByTimestamp orders ascending by creation time. The sort is stable:
// same-timestamp items keep their relative insertion order.
func sortByTimestamp(messages []*Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
}

// snapshotReply captures the reply target as a value. The returned ReplyRef
// never changes, even if the original message is edited or removed later.
func snapshotReply(original *Message) *ReplyRef {
	content := original.Content
	if original.Kind != MessageText {
		content = original.Preview()
	}
	return &ReplyRef{
		MessageID:  original.ID,
		Content:    content,
		SenderName: original.SenderName,
	}
}

func directRowToMessage(row *DirectMessage, self identity.PrincipalID, convKey string, profiles map[identity.PrincipalID]*identity.Profile) *Message {
	kind, err := MessageKindOf(row.MessageType)
	if err != nil {
		log.Printf("chatsync: %v, rendering as text", err)
	}

	m := &Message{
		ID:              row.ID,
		Kind:            kind,
		ConversationKey: convKey,
		IsSelf:          row.SenderID == self,
		IsRead:          row.IsRead,
		ViewOnce:        row.ViewOnce,
		Blurred:         row.Blurred,
		CreatedAt:       row.CreatedAt,
	}
	if row.Content != nil {
		m.Content = *row.Content
	}
	if row.FileURL != nil {
		m.FileURL = *row.FileURL
	}
	if row.FileName != nil {
		m.FileName = *row.FileName
	}
	if row.FileSize != nil {
		m.FileSize = *row.FileSize
	}
	if row.DurationSeconds != nil {
		m.DurationSeconds = *row.DurationSeconds
	}
	if p, ok := profiles[row.SenderID]; ok {
		m.SenderName = p.Name()
		m.SenderAvatar = p.AvatarURL
	}
	return m
}

func channelRowToMessage(row *ChannelMessage, self identity.ProfileID, convKey string, profiles map[identity.ProfileID]*identity.Profile) *Message {
	kind, err := MessageKindOf(row.MessageType)
	if err != nil {
		log.Printf("chatsync: %v, rendering as text", err)
	}

	m := &Message{
		ID:              row.ID,
		Kind:            kind,
		ConversationKey: convKey,
		ChannelID:       row.ChannelID,
		IsSelf:          row.SenderID == self,
		CreatedAt:       row.CreatedAt,
	}
	if row.Content != nil {
		m.Content = *row.Content
	}
	if row.FileURL != nil {
		m.FileURL = *row.FileURL
	}
	if row.FileName != nil {
		m.FileName = *row.FileName
	}
	if row.FileSize != nil {
		m.FileSize = *row.FileSize
	}
	if row.DurationSeconds != nil {
		m.DurationSeconds = *row.DurationSeconds
	}
	if p, ok := profiles[row.SenderID]; ok {
		m.SenderName = p.Name()
		m.SenderAvatar = p.AvatarURL
	}
	return m
}

// callToMessage projects a call log into the timeline under its namespaced
// id so it can never collide with a message-table id
func callToMessage(call *CallLog, selfProfile identity.ProfileID, convKey, senderName string) *Message {
	return &Message{
		ID:              CallMessageID(call.ID),
		Kind:            MessageCall,
		ConversationKey: convKey,
		IsSelf:          call.CallerID == selfProfile,
		SenderName:      senderName,
		CallType:        call.CallType,
		CallStatus:      call.Status,
		DurationSeconds: call.DurationSeconds,
		CreatedAt:       call.StartedAt,
	}
}

func callSenderName(self, peer *identity.Profile, call *CallLog) string {
	if call.CallerID == self.ID {
		return self.Name()
	}
	return peer.Name()
}

func distinctPrincipals(rows []*DirectMessage, extra ...identity.PrincipalID) []identity.PrincipalID {
	seen := make(map[identity.PrincipalID]struct{})
	var ids []identity.PrincipalID
	add := func(id identity.PrincipalID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, row := range rows {
		add(row.SenderID)
		add(row.ReceiverID)
	}
	for _, id := range extra {
		add(id)
	}
	return ids
}

func distinctProfiles(rows []*ChannelMessage, extra ...identity.ProfileID) []identity.ProfileID {
	seen := make(map[identity.ProfileID]struct{})
	var ids []identity.ProfileID
	add := func(id identity.ProfileID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, row := range rows {
		add(row.SenderID)
	}
	for _, id := range extra {
		add(id)
	}
	return ids
}
