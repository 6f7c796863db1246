// internal/chatsync/aggregator.go

package chatsync

import (
	"context"
	"log"

	"github.com/tensae-code/liqlearns-chat-engine/internal/identity"
)

// Aggregator assembles the conversation list from the DM and group domains.
// The list it produces is a derived view, rebuilt from scratch on every
// refresh; the Aggregator is its only owner and keeps the previous known-good
// list to fall back to when the backend fails.
type Aggregator struct {
	repo     Repository
	resolver identity.Resolver
	dmLimit  int

	last []*Conversation
}

func NewAggregator(repo Repository, resolver identity.Resolver, dmLimit int) *Aggregator {
	if dmLimit <= 0 {
		dmLimit = 100
	}
	return &Aggregator{repo: repo, resolver: resolver, dmLimit: dmLimit}
}

// Refresh rebuilds the conversation list. It never returns an error: backend
// failures are logged and the previous list is returned unchanged. profile
// may be empty while the profile row is still loading; group entries are then
// omitted and a later call with the profile set adds them without duplicating
// the DM entries, because every refresh starts from scratch.
func (a *Aggregator) Refresh(ctx context.Context, principal identity.PrincipalID, profile identity.ProfileID) []*Conversation {
	dms, err := a.buildDirectEntries(ctx, principal)
	if err != nil {
		log.Printf("chatsync: conversation refresh failed, keeping previous list: %v", err)
		listRefreshTotal.WithLabelValues("error").Inc()
		return a.last
	}

	list := dms

	if profile != "" {
		groups, err := a.buildGroupEntries(ctx, profile)
		if err != nil {
			// DMs loaded fine; degrade to a DM-only list rather than
			// discarding it
			log.Printf("chatsync: group entries unavailable: %v", err)
		} else {
			// DMs first, then groups, insertion order; the UI re-sorts by
			// recency if it wants to
			list = append(list, groups...)
		}
	}

	a.last = list
	listRefreshTotal.WithLabelValues("ok").Inc()
	return list
}

// Last returns the most recently built list without refreshing
func (a *Aggregator) Last() []*Conversation {
	return a.last
}

func (a *Aggregator) buildDirectEntries(ctx context.Context, principal identity.PrincipalID) ([]*Conversation, error) {
	// Recency window, newest first. This caps which counterparts appear in
	// the list, not how much history the synchronizer can load.
	rows, err := a.repo.ListRecentDirectMessages(ctx, principal, a.dmLimit)
	if err != nil {
		return nil, backendErr("list recent direct messages", err)
	}

	// One entry per counterpart: rows are descending, so the first row seen
	// per counterpart is their most recent message
	var order []identity.PrincipalID
	latest := make(map[identity.PrincipalID]*DirectMessage)
	for _, row := range rows {
		counterpart := row.SenderID
		if counterpart == principal {
			counterpart = row.ReceiverID
		}
		if _, seen := latest[counterpart]; !seen {
			latest[counterpart] = row
			order = append(order, counterpart)
		}
	}

	// One batched identity lookup for every counterpart
	profiles, err := a.resolver.ByPrincipals(ctx, order)
	if err != nil {
		return nil, backendErr("resolve counterpart profiles", err)
	}

	entries := make([]*Conversation, 0, len(order))
	for _, counterpart := range order {
		row := latest[counterpart]

		conv := &Conversation{
			Kind:                 KindDM,
			CounterpartPrincipal: counterpart,
			Preview:              previewOfDirect(row),
			LastMessageAt:        row.CreatedAt,
			LastFromSelf:         row.SenderID == principal,
		}
		if conv.LastFromSelf {
			conv.LastSelfRead = row.IsRead
		}

		if p, ok := profiles[counterpart]; ok {
			conv.CounterpartProfile = p.ID
			conv.Name = p.Name()
			conv.AvatarURL = p.AvatarURL
		} else {
			// Resolution gap: keep the entry, degrade the display fields
			conv.Name = "Unknown user"
		}

		// Unread count is an independent count query so it is not capped by
		// the one-row-per-counterpart reduction above
		unread, err := a.repo.CountUnreadDirect(ctx, principal, counterpart)
		if err != nil {
			return nil, backendErr("count unread direct messages", err)
		}
		conv.UnreadCount = unread

		entries = append(entries, conv)
	}

	return entries, nil
}

func (a *Aggregator) buildGroupEntries(ctx context.Context, profile identity.ProfileID) ([]*Conversation, error) {
	groups, err := a.repo.ListGroupMemberships(ctx, profile)
	if err != nil {
		return nil, backendErr("list group memberships", err)
	}

	entries := make([]*Conversation, 0, len(groups))
	for _, g := range groups {
		conv := &Conversation{
			Kind:      KindGroup,
			GroupID:   g.ID,
			Name:      g.Name,
			AvatarURL: g.AvatarURL,
		}

		// Authoritative count per group; the denormalized counter on the
		// groups row is allowed to be stale
		count, err := a.repo.CountGroupMembers(ctx, g.ID)
		if err != nil {
			return nil, backendErr("count group members", err)
		}
		conv.MemberCount = count

		entries = append(entries, conv)
	}

	return entries, nil
}

func previewOfDirect(row *DirectMessage) string {
	kind, err := MessageKindOf(row.MessageType)
	if err != nil {
		log.Printf("chatsync: %v, previewing as text", err)
	}

	m := Message{Kind: kind}
	if row.Content != nil {
		m.Content = *row.Content
	}
	return m.Preview()
}
