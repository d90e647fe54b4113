package logging

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const dateFormat = "02/Jan/2006:15:04:05 -0700"

// AccessEntry represents one access log entry, written after the
// response for the request was fully sent.
type AccessEntry struct {
	// Request of the entry.
	Request *http.Request

	// StatusCode of the response.
	StatusCode int

	// ResponseSize is the number of body bytes written.
	ResponseSize int64

	// Duration from receiving the request until the response was sent.
	Duration time.Duration

	// CorrelationID ties the entry to the application log lines of the
	// same request, empty when resolution never assigned one.
	CorrelationID string
}

var accessLog *logrus.Logger

func initAccess(o Options) {
	if o.AccessLogDisabled {
		accessLog = nil
		return
	}

	accessLog = logrus.New()
	accessLog.Out = os.Stderr
	if o.AccessLogOutput != nil {
		accessLog.Out = o.AccessLogOutput
	}

	if o.AccessLogJSONEnabled {
		accessLog.Formatter = &logrus.JSONFormatter{TimestampFormat: dateFormat}
	} else {
		accessLog.Formatter = &accessLogFormatter{}
	}
}

func remoteAddr(r *http.Request) string {
	if ff := r.Header.Get("X-Forwarded-For"); ff != "" {
		return ff
	}
	return r.RemoteAddr
}

// strip port from addresses with hostname, ipv4 or ipv6
func stripPort(address string) string {
	if ip := net.ParseIP(address); ip != nil {
		return address
	}

	lastColon := strings.LastIndex(address, ":")
	if lastColon < 0 {
		return address
	}

	return address[:lastColon]
}

func remoteHost(r *http.Request) string {
	if h := stripPort(remoteAddr(r)); h != "" {
		return h
	}
	return "-"
}

func requestUser(r *http.Request) string {
	if u, _, _ := r.BasicAuth(); u != "" {
		return u
	}
	return "-"
}

func omitEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type accessLogFormatter struct{}

// Format writes the entry fields in the combined log format, extended
// with the duration in milliseconds and the correlation id.
func (*accessLogFormatter) Format(e *logrus.Entry) ([]byte, error) {
	return []byte(fmt.Sprintf(
		`%s - %s [%s] "%s %s %s" %d %d "%s" "%s" %d %s`+"\n",
		e.Data["host"],
		e.Data["user"],
		e.Time.Format(dateFormat),
		e.Data["method"],
		e.Data["uri"],
		e.Data["proto"],
		e.Data["status"],
		e.Data["size"],
		e.Data["referer"],
		e.Data["user-agent"],
		e.Data["duration"],
		e.Data["correlation"],
	)), nil
}

// LogAccess writes an access log entry, or nothing when the access log
// is disabled.
func LogAccess(entry *AccessEntry) {
	if accessLog == nil || entry == nil || entry.Request == nil {
		return
	}

	r := entry.Request
	accessLog.WithFields(logrus.Fields{
		"host":        remoteHost(r),
		"user":        requestUser(r),
		"method":      r.Method,
		"uri":         r.RequestURI,
		"proto":       r.Proto,
		"status":      entry.StatusCode,
		"size":        entry.ResponseSize,
		"referer":     omitEmpty(r.Referer()),
		"user-agent":  omitEmpty(r.UserAgent()),
		"duration":    int64(entry.Duration / time.Millisecond),
		"correlation": omitEmpty(entry.CorrelationID),
	}).Info()
}
