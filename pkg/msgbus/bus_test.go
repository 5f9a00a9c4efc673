package msgbus

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	payload string
}

func (m *testMessage) Headers() RawHeaders          { return RawHeaders{} }
func (m *testMessage) Payload() []byte              { return []byte(m.payload) }
func (m *testMessage) Key() []byte                  { return nil }
func (m *testMessage) Ack(context.Context) error    { return nil }
func (m *testMessage) Nack(context.Context) error   { return nil }
func (m *testMessage) Reject(context.Context) error { return nil }
func (m *testMessage) Span() SpanSpec               { return SpanSpec{} }
func (m *testMessage) Close() error                 { return nil }

type result struct {
	msg *testMessage
	err error
}

// scriptedStream replays results, then reports ErrStreamClosed.
type scriptedStream struct {
	results []result
	calls   int
}

func (s *scriptedStream) Next(ctx context.Context) (*testMessage, error) {
	s.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.results) == 0 {
		return nil, ErrStreamClosed
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.msg, r.err
}

func (s *scriptedStream) Close() error { return nil }

type terminalErr struct{ terminal bool }

func (e terminalErr) Error() string  { return fmt.Sprintf("poll failed, terminal=%t", e.terminal) }
func (e terminalErr) Terminal() bool { return e.terminal }

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "stream closed", err: ErrStreamClosed, want: true},
		{name: "wrapped stream closed", err: fmt.Errorf("next: %w", ErrStreamClosed), want: true},
		{name: "terminal", err: terminalErr{terminal: true}, want: true},
		{name: "wrapped terminal", err: fmt.Errorf("poll: %w", terminalErr{terminal: true}), want: true},
		{name: "non-terminal", err: terminalErr{terminal: false}, want: false},
		{name: "context canceled", err: context.Canceled, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTerminal(tt.err))
		})
	}
}

func TestMessages_YieldsUntilClosed(t *testing.T) {
	s := &scriptedStream{results: []result{
		{msg: &testMessage{payload: "a"}},
		{err: terminalErr{terminal: false}},
		{msg: &testMessage{payload: "b"}},
	}}

	var payloads []string
	var errs []error
	for m, err := range Messages(t.Context(), s) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		payloads = append(payloads, string(m.Payload()))
	}

	require.Equal(t, []string{"a", "b"}, payloads)
	require.Len(t, errs, 1)
	// ErrStreamClosed ends iteration without being yielded.
	require.Equal(t, 4, s.calls)
}

func TestMessages_StopsAfterTerminalError(t *testing.T) {
	s := &scriptedStream{results: []result{
		{err: terminalErr{terminal: true}},
		{msg: &testMessage{payload: "never"}},
	}}

	var errs []error
	for m, err := range Messages(t.Context(), s) {
		require.Nil(t, m)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.True(t, IsTerminal(errs[0]))
	require.Equal(t, 1, s.calls)
}

func TestMessages_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	s := &scriptedStream{results: []result{{msg: &testMessage{payload: "a"}}}}

	var errs []error
	for _, err := range Messages(ctx, s) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], context.Canceled)
}

func TestMessages_Break(t *testing.T) {
	s := &scriptedStream{results: []result{
		{msg: &testMessage{payload: "a"}},
		{msg: &testMessage{payload: "b"}},
	}}

	for range Messages(t.Context(), s) {
		break
	}
	require.Equal(t, 1, s.calls)
}
