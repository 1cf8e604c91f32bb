package bus

import "time"

// Event is a message published on the bus.
type Event struct {
	Topic     string
	Timestamp time.Time
	Payload   any
}
