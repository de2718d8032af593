package server

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Poller wraps poll(2) over a mutable fd interest set.
type Poller struct {
	fds []unix.PollFd
}

// NewPoller returns an empty poll set.
func NewPoller() *Poller {
	return &Poller{}
}

// Add registers fd with the given interest bits.
func (p *Poller) Add(fd int, events int16) {
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: events})
}

// SetEvents replaces the interest bits for fd.
func (p *Poller) SetEvents(fd int, events int16) {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds[i].Events = events
			return
		}
	}
}

// Remove drops fd from the poll set.
func (p *Poller) Remove(fd int) {
	for i := range p.fds {
		if p.fds[i].Fd == int32(fd) {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered fds.
func (p *Poller) Len() int {
	return len(p.fds)
}

// Poll waits up to timeoutMs for readiness and returns the ready entries.
// An interrupted poll returns an empty slice so the caller just loops.
func (p *Poller) Poll(timeoutMs int) ([]unix.PollFd, error) {
	n, err := unix.Poll(p.fds, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	ready := make([]unix.PollFd, 0, n)
	for _, pfd := range p.fds {
		if pfd.Revents != 0 {
			ready = append(ready, pfd)
		}
	}
	return ready, nil
}
