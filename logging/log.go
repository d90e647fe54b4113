// Package logging initializes the application log.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

type prefixFormatter struct {
	prefix    string
	formatter logrus.Formatter
}

// Init options for logging.
type Options struct {

	// Prefix for application log entries.
	ApplicationLogPrefix string

	// Output for the application log entries, when nil, the logrus
	// default (os.Stderr) is used.
	ApplicationLogOutput io.Writer

	// ApplicationLogLevel as understood by logrus ("debug", "info",
	// ...), empty means info.
	ApplicationLogLevel string

	// When set, application log entries are written as JSON.
	ApplicationLogJSONEnabled bool

	// AccessLogOutput for the access log entries, when nil, os.Stderr
	// is used.
	AccessLogOutput io.Writer

	// When set, no access log entries are written.
	AccessLogDisabled bool

	// When set, access log entries are written as JSON instead of the
	// combined log format.
	AccessLogJSONEnabled bool
}

func (f *prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	b, err := f.formatter.Format(e)
	if err != nil {
		return nil, err
	}

	return append([]byte(f.prefix), b...), nil
}

// Init initializes the application log.
func Init(o Options) error {
	if o.ApplicationLogJSONEnabled {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	if o.ApplicationLogPrefix != "" {
		logrus.SetFormatter(&prefixFormatter{
			o.ApplicationLogPrefix, logrus.StandardLogger().Formatter})
	}

	if o.ApplicationLogOutput != nil {
		logrus.SetOutput(o.ApplicationLogOutput)
	}

	if o.ApplicationLogLevel != "" {
		level, err := logrus.ParseLevel(o.ApplicationLogLevel)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
	}

	initAccess(o)
	return nil
}
