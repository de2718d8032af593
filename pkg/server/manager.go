package server

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dubu13/webserv/pkg/config"
	"github.com/dubu13/webserv/pkg/handler"
	"github.com/dubu13/webserv/pkg/internal/utils"
	"github.com/dubu13/webserv/pkg/logging"
	"github.com/dubu13/webserv/pkg/metrics"
	"github.com/dubu13/webserv/pkg/protocol"
	"github.com/dubu13/webserv/pkg/router"
)

const (
	// pollTimeoutMs is the reactor's poll timeout; it bounds how late a
	// timeout sweep or shutdown check can run.
	pollTimeoutMs = 1000
	// readBufferSize is the per-wake receive chunk size.
	readBufferSize = 4096
)

// Manager is one reactor: it owns a set of listening sockets and every
// client accepted from them, and runs the poll/dispatch loop on a single
// goroutine.
type Manager struct {
	// log is the associated logger.
	log logging.Logger
	// cfg holds the server blocks this reactor hosts, by endpoint.
	cfg *config.Config
	// dispatcher produces responses; it is owned by this reactor.
	dispatcher *handler.Dispatcher
	// tracker counts reactor activity.
	tracker *metrics.Tracker

	poller *Poller
	// listeners maps a listening fd to its endpoint key.
	listeners map[int]string
	// clients maps a connection fd to its state.
	clients map[int]*client
	// idleTimeout is how long a client may sit without activity.
	idleTimeout time.Duration
}

// NewManager creates a reactor for the endpoints in cfg.
func NewManager(log logging.Logger, cfg *config.Config, dispatcher *handler.Dispatcher, tracker *metrics.Tracker) *Manager {
	return &Manager{
		log:         log,
		cfg:         cfg,
		dispatcher:  dispatcher,
		tracker:     tracker,
		poller:      NewPoller(),
		listeners:   make(map[int]string),
		clients:     make(map[int]*client),
		idleTimeout: protocol.ClientTimeout,
	}
}

// Run opens all listeners and drives the event loop until ctx is done or a
// fatal poll error occurs. All fds are closed before returning.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.setupListeners(); err != nil {
		m.closeAll()
		return err
	}
	defer m.closeAll()
	defer m.tracker.LogSummary()

	for ctx.Err() == nil {
		ready, err := m.poller.Poll(pollTimeoutMs)
		if err != nil {
			return err
		}
		for _, pfd := range ready {
			m.dispatch(ctx, int(pfd.Fd), pfd.Revents)
		}
		m.sweepTimeouts(time.Now())
	}
	m.log.Infoln("reactor stopping")
	return nil
}

// setupListeners opens one listening socket per configured endpoint.
func (m *Manager) setupListeners() error {
	for _, endpoint := range m.cfg.EndpointKeys() {
		fd, err := setupListener(endpoint)
		if err != nil {
			return err
		}
		m.listeners[fd] = endpoint
		m.poller.Add(fd, unix.POLLIN)
		m.log.Infof("listening on %s", endpoint)
	}
	return nil
}

// dispatch routes one readiness event.
func (m *Manager) dispatch(ctx context.Context, fd int, revents int16) {
	if endpoint, ok := m.listeners[fd]; ok {
		m.acceptClients(fd, endpoint)
		return
	}

	c, ok := m.clients[fd]
	if !ok {
		return
	}
	if revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		m.closeClient(c)
		return
	}
	switch {
	case c.state == stateReading && revents&(unix.POLLIN|unix.POLLHUP) != 0:
		m.readClient(ctx, c)
	case c.state == stateWriting && revents&unix.POLLOUT != 0:
		m.writeClient(c)
	}
}

// acceptClients drains the accept queue of a ready listener.
func (m *Manager) acceptClients(listenFd int, endpoint string) {
	for {
		fd, sa, err := unix.Accept(listenFd)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) &&
				!errors.Is(err, unix.EINTR) {
				m.log.Errorf("accept on %s: %v", endpoint, err)
			}
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}
		c := newClient(fd, sockaddrString(sa), endpoint, time.Now())
		m.clients[fd] = c
		m.poller.Add(fd, unix.POLLIN)
		m.tracker.Connection()
		m.log.Debugf("accepted %s on %s (fd %d)", c.remoteAddr, endpoint, fd)
	}
}

// readClient pulls available bytes and, once the buffered data forms a
// complete request, processes it and stages the response.
func (m *Manager) readClient(ctx context.Context, c *client) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			c.in = append(c.in, buf[:n]...)
			c.touch(time.Now())
			continue
		}
		if n == 0 && err == nil {
			// Peer closed before a full request arrived.
			m.closeClient(c)
			return
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		m.closeClient(c)
		return
	}

	if !protocol.IsComplete(c.in) {
		return
	}

	response := m.process(ctx, c)
	c.queueResponse(response)
	m.poller.SetEvents(c.fd, unix.POLLOUT)
}

// process parses, routes, and handles the buffered request, returning the
// serialized response.
func (m *Manager) process(ctx context.Context, c *client) []byte {
	req, err := protocol.Parse(c.in)
	if err != nil {
		m.tracker.ParseFailure()
		status := protocol.StatusFromError(err)
		m.tracker.Response(status)
		m.log.Infof("%s bad request: %v", c.remoteAddr, err)
		if block, derr := m.cfg.Default(c.endpoint); derr == nil {
			return m.dispatcher.ErrorResponse(block, status).Build()
		}
		return protocol.Error(status).Build()
	}
	m.tracker.Request()

	blocks := m.cfg.Servers(c.endpoint)
	block := router.SelectServer(blocks, req.Header("Host"))
	resp := m.dispatcher.Handle(ctx, router.New(block), req)
	m.tracker.Response(resp.Status)
	m.log.Infof("%s %s %s -> %d", c.remoteAddr,
		req.RequestLine.Method, utils.SanitizeForLog(req.RequestLine.URI), resp.Status)
	return resp.Build()
}

// writeClient sends as much of the response as the kernel accepts, closing
// the connection once it has fully drained.
func (m *Manager) writeClient(c *client) {
	for len(c.out) > 0 {
		n, err := unix.SendmsgN(c.fd, c.out, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		if n > 0 {
			c.touch(time.Now())
			if c.consumeOut(n) {
				break
			}
			continue
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		m.closeClient(c)
		return
	}
	// One request per connection: done writing means done with the client.
	m.closeClient(c)
}

// sweepTimeouts closes clients idle past the limit, sending a best-effort
// 408 first.
func (m *Manager) sweepTimeouts(now time.Time) {
	var expired []*client
	for _, c := range m.clients {
		if c.timedOut(now, m.idleTimeout) {
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		m.tracker.Timeout()
		m.log.Infof("closing idle client %s", c.remoteAddr)
		timeout := protocol.Error(protocol.StatusRequestTimeout).Build()
		_, _ = unix.SendmsgN(c.fd, timeout, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		m.closeClient(c)
	}
}

// closeClient tears down one connection.
func (m *Manager) closeClient(c *client) {
	c.state = stateClosing
	m.poller.Remove(c.fd)
	delete(m.clients, c.fd)
	unix.Close(c.fd)
}

// closeAll closes every client and listener.
func (m *Manager) closeAll() {
	for _, c := range m.clients {
		m.poller.Remove(c.fd)
		unix.Close(c.fd)
	}
	m.clients = make(map[int]*client)
	for fd := range m.listeners {
		m.poller.Remove(fd)
		unix.Close(fd)
	}
	m.listeners = make(map[int]string)
}
