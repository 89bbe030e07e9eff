package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const lokiQueueSize = 1024

// Options selects encoder, level and the optional Loki sink
type Options struct {
	ServiceName string
	Environment string
	Production  bool
	Level       string
	LokiURL     string
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

// New builds the process logger. Production writes JSON to stdout, otherwise
// the development console format is used. When LokiURL is set every
// entry is also pushed to Loki. The returned shutdown flushes the Loki queue.
func New(opts Options) (*zap.Logger, func(context.Context) error, error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	var stdoutEncoder zapcore.Encoder
	if opts.Production {
		stdoutEncoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		stdoutEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	core := zapcore.NewCore(stdoutEncoder, zapcore.Lock(os.Stdout), level)

	shutdown := func(context.Context) error { return nil }
	if opts.LokiURL != "" {
		writer := newLokiWriter(opts.LokiURL, map[string]string{
			"service_name": opts.ServiceName,
			"environment":  opts.Environment,
			"job":          "tinylink-api",
		}, &http.Client{Timeout: 10 * time.Second})

		lokiConfig := zap.NewProductionEncoderConfig()
		lokiConfig.TimeKey = "ts"
		lokiConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		lokiCore := zapcore.NewCore(zapcore.NewJSONEncoder(lokiConfig), writer, level)

		core = zapcore.NewTee(core, lokiCore)
		shutdown = writer.Close
	}

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, shutdown, nil
}

// lokiWriter implements zapcore.WriteSyncer by queueing entries for a
// single background pusher. A full queue drops entries instead of blocking.
type lokiWriter struct {
	url     string
	client  *http.Client
	labels  map[string]string
	entries chan []byte
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newLokiWriter(url string, labels map[string]string, client *http.Client) *lokiWriter {
	w := &lokiWriter{
		url:     url,
		client:  client,
		labels:  labels,
		entries: make(chan []byte, lokiQueueSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Write implements io.Writer
func (w *lokiWriter) Write(p []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return len(p), nil
	}

	// zap reuses p after Write returns
	line := make([]byte, len(p))
	copy(line, p)

	select {
	case w.entries <- line:
	default:
		fmt.Fprintln(os.Stderr, "loki queue full, dropping log entry")
	}
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer
func (w *lokiWriter) Sync() error {
	return nil
}

// Close stops accepting entries and waits for the queue to drain
func (w *lokiWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.entries)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *lokiWriter) run() {
	defer close(w.done)
	for line := range w.entries {
		if err := w.push(line); err != nil {
			// Loki being down must never break the service
			fmt.Fprintf(os.Stderr, "failed to send log to loki: %v\n", err)
		}
	}
}

func (w *lokiWriter) push(line []byte) error {
	pushReq := lokiPushRequest{
		Streams: []lokiStream{{
			Stream: w.streamLabels(line),
			Values: [][]string{{strconv.FormatInt(time.Now().UnixNano(), 10), string(bytes.TrimSpace(line))}},
		}},
	}

	body, err := json.Marshal(pushReq)
	if err != nil {
		return fmt.Errorf("marshal loki request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create loki request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("loki returned status %d", resp.StatusCode)
	}
	return nil
}

// streamLabels adds low-cardinality fields of the entry to the base labels
func (w *lokiWriter) streamLabels(line []byte) map[string]string {
	labels := make(map[string]string, len(w.labels)+3)
	for k, v := range w.labels {
		labels[k] = v
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(line, &entry); err != nil {
		return labels
	}
	if level, ok := entry["level"].(string); ok && level != "" {
		labels["level"] = level
	}
	if method, ok := entry["method"].(string); ok && method != "" {
		labels["method"] = method
	}
	if status, ok := entry["status"].(float64); ok {
		labels["status"] = strconv.Itoa(int(status))
	}
	return labels
}
