package llm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/grader/pkg/llm"
)

const geminiReply = `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"suggestions\": []}"}]}}]}`

func fakeGemini(t *testing.T, failures int, status int) (*httptest.Server, *int32) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/test-model:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if int(n) <= failures {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"try later"}}`))
			return
		}
		w.Write([]byte(geminiReply))
	}))
	return server, &calls
}

func newGemini(t *testing.T, baseURL string) *llm.GeminiEngine {
	engine, err := llm.NewGeminiWithConfig(context.Background(), llm.GeminiConfig{
		APIKey:            "test-key",
		Model:             "test-model",
		Temperature:       0.2,
		SystemInstruction: "give feedback",
		BaseURL:           baseURL + "/",
		JSONMode:          true,
		Retry:             llm.RetryConfig{Attempts: 5, InitialDelay: time.Millisecond, Multiplier: 2},
	})
	require.NoError(t, err)
	return engine
}

func TestGeminiRequiresKey(t *testing.T) {
	_, err := llm.NewGeminiWithConfig(context.Background(), llm.GeminiConfig{})
	assert.Error(t, err)
}

func TestGeminiComplete(t *testing.T) {
	server, calls := fakeGemini(t, 0, 0)
	defer server.Close()

	got, err := newGemini(t, server.URL).Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"suggestions": []}`, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestGeminiRetriesTransientFailures(t *testing.T) {
	server, calls := fakeGemini(t, 2, http.StatusServiceUnavailable)
	defer server.Close()

	got, err := newGemini(t, server.URL).Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"suggestions": []}`, got)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestGeminiGivesUpAfterAttempts(t *testing.T) {
	server, calls := fakeGemini(t, 100, http.StatusTooManyRequests)
	defer server.Close()

	_, err := newGemini(t, server.URL).Complete(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, int32(5), atomic.LoadInt32(calls))
}

func TestGeminiDoesNotRetryClientErrors(t *testing.T) {
	server, calls := fakeGemini(t, 100, http.StatusBadRequest)
	defer server.Close()

	_, err := newGemini(t, server.URL).Complete(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}
