package messaging

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestHeaderCarrier(t *testing.T) {
	msg := kafka.Message{}
	c := carrierFor(&msg)

	c.Set("traceparent", "00-a-b-01")
	c.Set(HeaderEventType, "order.created")
	c.Set("traceparent", "00-c-d-01")

	assert.Equal(t, "00-c-d-01", c.Get("traceparent"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Equal(t, []string{"traceparent", HeaderEventType}, c.Keys())
	assert.Len(t, msg.Headers, 2)
}

func TestHeaderCarrier_LastRepeatedKeyWins(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{
		{Key: HeaderEventType, Value: []byte("order.created")},
		{Key: HeaderEventType, Value: []byte("order.cancelled")},
	}}

	assert.Equal(t, "order.cancelled", carrierFor(&msg).Get(HeaderEventType))
}

func TestFromKafka(t *testing.T) {
	m := fromKafka(kafka.Message{
		Key:     []byte("order-1"),
		Value:   []byte(`{"order_id":"order-1"}`),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte("order.cancelled")},
			{Key: HeaderEventID, Value: []byte("evt-1")},
		},
	})

	assert.Equal(t, Message{ID: "evt-1", Key: "order-1", Type: "order.cancelled", Payload: []byte(`{"order_id":"order-1"}`)}, m)
}
