package tracing

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// loggingTransport records every exporter call to the collector at debug
// level, and failures at error level.
type loggingTransport struct {
	base   http.RoundTripper
	logger *zap.Logger
}

// NewLoggingTransport wraps base (http.DefaultTransport when nil)
func NewLoggingTransport(base http.RoundTripper, logger *zap.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{
		base:   base,
		logger: logger.With(zap.String("component", "otlp")),
	}
}

// RoundTrip implements http.RoundTripper
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.logger.Error("OTLP request failed",
			zap.String("url", req.URL.String()),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	fields := []zap.Field{
		zap.String("path", req.URL.Path),
		zap.Int64("content_length", req.ContentLength),
		zap.Int("status_code", resp.StatusCode),
		zap.Duration("duration", duration),
		zap.Any("headers", formatHeaders(req.Header)),
	}
	if resp.StatusCode >= 400 {
		t.logger.Error("OTLP collector rejected export", fields...)
	} else {
		t.logger.Debug("OTLP export sent", fields...)
	}

	return resp, nil
}

// formatHeaders flattens headers for logging, hiding credentials
func formatHeaders(headers http.Header) map[string]string {
	formatted := make(map[string]string, len(headers))
	for key, values := range headers {
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "authorization") ||
			strings.Contains(lowerKey, "token") ||
			strings.Contains(lowerKey, "secret") {
			formatted[key] = "***REDACTED***"
		} else {
			formatted[key] = strings.Join(values, ", ")
		}
	}
	return formatted
}
