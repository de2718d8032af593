package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface shared by all server components. It is
// satisfied by *logrus.Logger and *logrus.Entry, so components can be handed
// either a root logger or a scoped one (log.WithField("component", ...)).
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}
