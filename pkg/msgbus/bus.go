package msgbus

import (
	"context"
	"errors"
	"iter"
)

// IncomingMessage is one consumed message.
//
// Headers, Payload, Key and Span are read-only and never fail. Ack, Nack and
// Reject may be issued from any goroutine and in any order relative to other
// messages of the same stream. Close releases the message; it does not imply
// an acknowledgement.
type IncomingMessage interface {
	// Headers returns the message metadata. Entries that are not valid text
	// are omitted. A message without headers yields an empty map.
	Headers() RawHeaders
	// Payload returns the message body, or an empty slice if there is none.
	Payload() []byte
	// Key returns the message key as delivered, nil if absent.
	Key() []byte

	// Ack marks the message as processed.
	Ack(ctx context.Context) error
	// Nack signals processing failure. Redelivery is driven by the absence
	// of an Ack, so backends may treat this as a no-op.
	Nack(ctx context.Context) error
	// Reject marks the message as permanently failed. It is not redelivered.
	Reject(ctx context.Context) error

	// Span describes the receive span for this message.
	Span() SpanSpec

	Close() error
}

// Stream is a single-pass sequence of incoming messages.
//
// Next blocks until a message is available, ctx is done, or the stream fails.
// Once Next has returned ErrStreamClosed or a terminal error, every later call
// returns an error as well.
type Stream[M IncomingMessage] interface {
	Next(ctx context.Context) (M, error)
	Close() error
}

// MessageBus converts a consumer resource into a Stream. IntoStream consumes
// the bus: it may be called once.
type MessageBus[M IncomingMessage, S Stream[M]] interface {
	IntoStream(ctx context.Context) (S, error)
}

// TerminalError is implemented by poll errors that end a stream.
type TerminalError interface {
	error
	Terminal() bool
}

// IsTerminal reports whether err ends the stream it came from.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStreamClosed) {
		return true
	}
	var te TerminalError
	return errors.As(err, &te) && te.Terminal()
}

// Messages adapts s to a range-over-func iterator. Iteration stops after a
// terminal error has been yielded, when ctx is done, or when the loop body
// breaks. Non-terminal errors are yielded and iteration continues.
func Messages[M IncomingMessage](ctx context.Context, s Stream[M]) iter.Seq2[M, error] {
	return func(yield func(M, error) bool) {
		for {
			msg, err := s.Next(ctx)
			if err != nil {
				if errors.Is(err, ErrStreamClosed) {
					return
				}
				if !yield(msg, err) || IsTerminal(err) || ctx.Err() != nil {
					return
				}
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}
