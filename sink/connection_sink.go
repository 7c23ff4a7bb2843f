package sink

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"context"
	"fmt"
	"sync"
)

var _ contract.EventSink = (*ConnectionSink)(nil)

// ConnectionSink is the outbound queue of one client connection.
// Any goroutine may Consume; a single writer drains Events and owns the socket.
// Closing only closes Done, the event channel stays open so a late Consume
// can never panic on a closed channel.
type ConnectionSink struct {
	events chan event.Event
	done   chan struct{}
	once   sync.Once
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	return &ConnectionSink{
		events: make(chan event.Event, bufferSize),
		done:   make(chan struct{}),
	}
}

// Consume is called by the owning session for its direct replies.
// Redirect the event through the writer of the connection.
func (s *ConnectionSink) Consume(ctx context.Context, e event.Event) error {
	select {
	case <-s.done:
		return errors.ErrSinkClosed
	default:
	}

	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return errors.ErrSinkClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errors.ErrSinkFull, ctx.Err())
	}
}

// Offer is the broadcast path: the event is queued only if there is room
// right now, so a client that stopped reading never holds up its room.
func (s *ConnectionSink) Offer(e event.Event) error {
	select {
	case <-s.done:
		return errors.ErrSinkClosed
	default:
	}

	select {
	case s.events <- e:
		return nil
	case <-s.done:
		return errors.ErrSinkClosed
	default:
		return errors.ErrSinkFull
	}
}

func (s *ConnectionSink) Events() <-chan event.Event { return s.events }

func (s *ConnectionSink) Done() <-chan struct{} { return s.done }

func (s *ConnectionSink) Close() {
	s.once.Do(func() { close(s.done) })
}
