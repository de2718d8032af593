package server

import (
	"time"
)

// connState tracks where a client connection is in its single
// request/response exchange.
type connState int

const (
	stateReading connState = iota
	stateWriting
	stateClosing
)

// client is one accepted connection: its fd, buffers, and idle clock. The
// owning reactor indexes clients by fd; each client owns its buffers
// exclusively.
type client struct {
	fd         int
	remoteAddr string
	// endpoint is the "host:port" listener key the connection arrived on,
	// used to pick the vhost candidate set.
	endpoint string
	// in accumulates request bytes until the completeness test fires.
	in []byte
	// out holds the serialized response while it drains under POLLOUT.
	out          []byte
	lastActivity time.Time
	state        connState
}

func newClient(fd int, remoteAddr, endpoint string, now time.Time) *client {
	return &client{
		fd:           fd,
		remoteAddr:   remoteAddr,
		endpoint:     endpoint,
		lastActivity: now,
		state:        stateReading,
	}
}

// touch refreshes the idle clock.
func (c *client) touch(now time.Time) {
	c.lastActivity = now
}

// timedOut reports whether the connection has idled past limit.
func (c *client) timedOut(now time.Time, limit time.Duration) bool {
	return now.Sub(c.lastActivity) > limit
}

// queueResponse stages a serialized response and flips the connection to
// the writing state.
func (c *client) queueResponse(data []byte) {
	c.out = data
	c.in = nil
	c.state = stateWriting
}

// consumeOut drops n sent bytes from the send buffer and reports whether
// the response has fully drained.
func (c *client) consumeOut(n int) bool {
	c.out = c.out[n:]
	return len(c.out) == 0
}
