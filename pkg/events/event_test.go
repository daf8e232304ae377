package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeKeepsTypeAndTime(t *testing.T) {
	ev := NewEvent("USER_RESET", map[string]interface{}{"user_id": "42"})
	require.NotEmpty(t, ev.EventID())

	raw, err := json.Marshal(ToEnvelope(ev))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	back := env.Event()

	assert.Equal(t, ev.ID, back.EventID())
	assert.Equal(t, "USER_RESET", back.EventType())
	assert.True(t, ev.OccurredAt.Equal(back.Timestamp()))
	assert.Equal(t, "42", back.Payload()["user_id"])
}
