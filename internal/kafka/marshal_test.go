package kafka

import (
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	OrderID int64 `json:"order_id"`
}

func TestUnwrapPayload(t *testing.T) {
	got, err := UnwrapPayload[samplePayload](json.RawMessage(`{"order_id":42}`))
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.OrderID)

	_, err = UnwrapPayload[samplePayload](json.RawMessage(`{"order_id":"x"}`))
	assert.ErrorContains(t, err, "decode payload")
}

func TestEventHeaders(t *testing.T) {
	m := kafka.Message{Headers: EventHeaders("OrderCreated", "evt-1", 2)}

	assert.Equal(t, "OrderCreated", Header(m, "x-event-type"))
	assert.Equal(t, "evt-1", Header(m, "x-event-id"))
	assert.Equal(t, "2", Header(m, "x-event-version"))
	assert.Equal(t, "", Header(m, "missing"))
}

func TestMustMarshalPanicsOnUnsupported(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(make(chan int)) })
	assert.JSONEq(t, `{"order_id":1}`, string(MustMarshal(samplePayload{OrderID: 1})))
}
