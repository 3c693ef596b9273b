package ipfix

import (
	"errors"

	"golang.org/x/sys/unix"
)

// connectionLostErrnos is the set of transport errors treated as
// "connection lost" (triggering reconnect) rather than "fatal" (logged,
// flow dropped, processing continues).
var connectionLostErrnos = map[unix.Errno]struct{}{
	unix.ECONNRESET:   {},
	unix.EPIPE:        {},
	unix.ENOTCONN:     {},
	unix.EHOSTUNREACH: {},
	unix.ENETDOWN:     {},
	unix.ENETUNREACH:  {},
	unix.ENOBUFS:      {},
	unix.ENOMEM:       {},
}

// isConnectionLost classifies a send error as recoverable transport
// loss versus a fatal, non-retryable failure.
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return false
	}
	_, lost := connectionLostErrnos[errno]
	return lost
}
