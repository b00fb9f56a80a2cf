// Package progress decouples orchestration steps from the transport that
// pushes notifications to a client.
package progress

import (
	"sync"
)

// Kind distinguishes step notifications from the single terminal event.
type Kind string

const (
	KindUpdate Kind = "update"
	KindFinal  Kind = "final_res"
)

// Event is one notification for the client. Final events carry either a
// JSON-encoded answer in Message or a non-empty ErrorMsg.
type Event struct {
	Kind     Kind   `json:"-"`
	Message  string `json:"message"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// Update builds a step notification.
func Update(message string) Event {
	return Event{Kind: KindUpdate, Message: message}
}

// Final builds a successful terminal event.
func Final(answerJSON string) Event {
	return Event{Kind: KindFinal, Message: answerJSON}
}

// Failure builds an error terminal event.
func Failure(errMsg string) Event {
	return Event{Kind: KindFinal, ErrorMsg: errMsg}
}

// Sink receives events for one run. Publish must not block.
type Sink interface {
	Publish(Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Channel is a buffered per-run sink. Publishing never blocks: events are
// dropped once the buffer is full or the channel has been closed.
type Channel struct {
	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped int
}

func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 16
	}
	return &Channel{ch: make(chan Event, buffer)}
}

func (c *Channel) Publish(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.dropped++
		return
	}
	select {
	case c.ch <- e:
	default:
		c.dropped++
	}
}

// Events is the receive side; it is closed by Close.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Close stops delivery. It is safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Dropped returns how many events were discarded.
func (c *Channel) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
