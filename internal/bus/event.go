package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kinds used by paperboy:
//
//	session.state      connection state changed (payload status.StateChange)
//	session.qr         new pairing challenge (payload: code string)
//	session.qr_cleared pairing challenge no longer valid
//	session.open       session reached the open state
//	session.logged_out terminal logout, reconnection halted
//	wa.message         live inbound message (payload *store.InboxRecord)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
