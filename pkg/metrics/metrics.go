package metrics

import (
	"github.com/dubu13/webserv/pkg/logging"
)

// Tracker counts reactor activity. Each reactor owns one tracker and is
// single-threaded, so the counters need no synchronization.
type Tracker struct {
	// log is the associated logger.
	log logging.Logger

	connectionsAccepted uint64
	requestsParsed      uint64
	parseFailures       uint64
	timeouts            uint64
	// responsesByClass counts responses by status class, indexed by
	// code/100 (responsesByClass[2] counts 2xx).
	responsesByClass [6]uint64
}

// NewTracker creates a tracker logging through log.
func NewTracker(log logging.Logger) *Tracker {
	return &Tracker{log: log}
}

// Connection records an accepted client connection.
func (t *Tracker) Connection() {
	t.connectionsAccepted++
}

// Request records a successfully parsed request.
func (t *Tracker) Request() {
	t.requestsParsed++
}

// ParseFailure records a request rejected by the parser.
func (t *Tracker) ParseFailure() {
	t.parseFailures++
}

// Timeout records a client closed for idling past the deadline.
func (t *Tracker) Timeout() {
	t.timeouts++
}

// Response records a response by its status class.
func (t *Tracker) Response(status int) {
	if class := status / 100; class >= 1 && class <= 5 {
		t.responsesByClass[class]++
	}
}

// LogSummary writes the accumulated totals, typically at shutdown.
func (t *Tracker) LogSummary() {
	t.log.Infof(
		"connections=%d requests=%d parse_failures=%d timeouts=%d 2xx=%d 3xx=%d 4xx=%d 5xx=%d",
		t.connectionsAccepted, t.requestsParsed, t.parseFailures, t.timeouts,
		t.responsesByClass[2], t.responsesByClass[3],
		t.responsesByClass[4], t.responsesByClass[5],
	)
}
