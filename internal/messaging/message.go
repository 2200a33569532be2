package messaging

import "github.com/segmentio/kafka-go"

const (
	TopicOrderEvents = "order.events"
	HeaderEventType  = "event_type"
	HeaderEventID    = "event_id"
)

// Message is what producers send and handlers receive. Type travels in the
// event_type header so consumers can route without decoding the payload. ID is
// stable across redeliveries of the same event.
type Message struct {
	ID      string
	Key     string
	Type    string
	Payload []byte
}

func fromKafka(msg kafka.Message) Message {
	c := carrierFor(&msg)
	return Message{
		ID:      c.Get(HeaderEventID),
		Key:     string(msg.Key),
		Type:    c.Get(HeaderEventType),
		Payload: msg.Value,
	}
}
