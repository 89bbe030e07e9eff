package logger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestNew_WithoutLoki(t *testing.T) {
	logger, shutdown, err := New(Options{Level: "debug", Environment: "development"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	assert.NoError(t, shutdown(context.Background()))
}

func TestNew_LevelFilters(t *testing.T) {
	logger, _, err := New(Options{Level: "warn", Environment: "production", Production: true})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestLokiWriter_PushesEntries(t *testing.T) {
	var (
		mu       sync.Mutex
		received []lokiPushRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req lokiPushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			mu.Lock()
			received = append(received, req)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	logger, shutdown, err := New(Options{
		ServiceName: "tinylink",
		Environment: "test",
		Level:       "info",
		LokiURL:     server.URL,
	})
	require.NoError(t, err)

	logger.Info("Request handled", zap.String("method", "GET"), zap.Int("status", 302))
	logger.Debug("filtered out")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	stream := received[0].Streams[0]
	assert.Equal(t, "tinylink", stream.Stream["service_name"])
	assert.Equal(t, "info", stream.Stream["level"])
	assert.Equal(t, "GET", stream.Stream["method"])
	assert.Equal(t, "302", stream.Stream["status"])
	assert.Contains(t, stream.Values[0][1], "Request handled")
}

func TestLokiWriter_WriteAfterClose(t *testing.T) {
	w := newLokiWriter("http://127.0.0.1:0", map[string]string{}, http.DefaultClient)
	require.NoError(t, w.Close(context.Background()))

	n, err := w.Write([]byte(`{"msg":"late"}`))
	assert.NoError(t, err)
	assert.Equal(t, 14, n)
	// second close is harmless
	assert.NoError(t, w.Close(context.Background()))
}
