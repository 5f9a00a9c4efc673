package msgbus

import "errors"

var (
	// ErrStreamClosed is returned by Stream.Next once the stream has been
	// closed. It is terminal: no further messages follow.
	ErrStreamClosed = errors.New("msgbus: stream closed")

	// ErrSendTimeout classifies a send that did not complete within the
	// producer's send timeout. Backends wrap it, so match with errors.Is.
	ErrSendTimeout = errors.New("msgbus: send timed out")
)
