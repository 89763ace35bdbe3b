package slogx

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestIDHeader carries the correlation ID of an outgoing request.
const RequestIDHeader = "X-Request-ID"

// Transport logs every outgoing request at debug level. It never logs
// headers, so bearer credentials stay out of the logs.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	logger := t.Logger
	if logger == nil {
		logger = FromContext(r.Context())
	}
	logger = logger.With(
		"req_id", r.Header.Get(RequestIDHeader),
		"method", r.Method,
		"path", r.URL.Path,
	)

	start := time.Now()
	resp, err := base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		logger.Debug("http_request_failed", "duration_ms", duration, "err", err)
		return nil, err
	}

	logger.Debug("http_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
