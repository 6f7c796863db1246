package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func event(payload string) Event {
	return Event{Table: "direct_messages", RowID: "m1", Payload: json.RawMessage(payload)}
}

func TestFilterMatches(t *testing.T) {
	e := event(`{"sender_id":"pr-bob","receiver_id":"pr-alice","content":"hi"}`)

	assert.True(t, Filter{}.Matches(e), "empty filter matches everything")
	assert.True(t, Filter{"receiver_id": "pr-alice"}.Matches(e))
	assert.True(t, Filter{"receiver_id": "pr-alice", "sender_id": "pr-bob"}.Matches(e))

	assert.False(t, Filter{"receiver_id": "pr-carol"}.Matches(e))
	assert.False(t, Filter{"receiver_id": "pr-alice", "sender_id": "pr-carol"}.Matches(e), "conjunction, not disjunction")
	assert.False(t, Filter{"channel_id": "ch-1"}.Matches(e), "absent column matches nothing")
}

func TestFilterMatchesNonStringValues(t *testing.T) {
	e := event(`{"channel_id":42,"is_read":true}`)

	assert.True(t, Filter{"channel_id": "42"}.Matches(e))
	assert.True(t, Filter{"is_read": "true"}.Matches(e))
	assert.False(t, Filter{"channel_id": "7"}.Matches(e))
}

func TestFilterMalformedPayload(t *testing.T) {
	e := event(`{broken`)

	assert.False(t, Filter{"receiver_id": "pr-alice"}.Matches(e))
	assert.True(t, Filter{}.Matches(e), "empty filter does not decode at all")
}
