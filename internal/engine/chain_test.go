package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleantext/ocr-pipeline/internal/models"
	"github.com/cleantext/ocr-pipeline/internal/ratelimit"
	"github.com/cleantext/ocr-pipeline/pkg/logger"
)

func visionBody(text string) string {
	resp := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func visionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req visionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.NotNil(t, req.Contents[0].Parts[1].InlineData)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func webhookServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req["image"])
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newChain(primary, secondary Engine, limiter *ratelimit.Limiter) *Chain {
	return NewChain(
		[]Engine{primary, secondary},
		limiter,
		ChainConfig{MaxPayloadBytes: 1 << 20, CallTimeout: 5 * time.Second},
		logger.NewTestLogger(),
	)
}

func testVision(srv *httptest.Server, key string) *VisionEngine {
	return NewVisionEngine(key, "test-model", srv.URL, logger.NewTestLogger())
}

func testRequest() Request {
	return Request{
		Image:    []byte("fake-jpeg-bytes"),
		MimeType: "image/jpeg",
		Prompt:   "transcribe",
		ClientID: "10.0.0.1",
	}
}

func TestChainPrimarySucceeds(t *testing.T) {
	primary := testVision(visionServer(t, http.StatusOK, visionBody("hello world")), "key")
	secondary := NewWebhookEngine("", logger.NewTestLogger())

	res, attempts, err := newChain(primary, secondary, nil).Recognize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "gemini", res.Engine)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.OutcomeSuccess, attempts[0].Outcome)
}

func TestChainStripsMarkdownFences(t *testing.T) {
	primary := testVision(visionServer(t, http.StatusOK, visionBody("```markdown\n# Title\nbody\n```")), "key")
	secondary := NewWebhookEngine("", logger.NewTestLogger())

	res, _, err := newChain(primary, secondary, nil).Recognize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody", res.Text)
}

func TestChainFallsThroughOnEmptyPrimary(t *testing.T) {
	primary := testVision(visionServer(t, http.StatusOK, visionBody("   ")), "key")
	secondary := NewWebhookEngine(webhookServer(t, http.StatusOK, `{"text":"from paddle"}`).URL, logger.NewTestLogger())

	res, attempts, err := newChain(primary, secondary, nil).Recognize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "from paddle", res.Text)
	assert.Equal(t, "paddle", res.Engine)

	require.Len(t, attempts, 2)
	assert.Equal(t, "gemini", attempts[0].Engine)
	assert.Equal(t, models.OutcomeEmpty, attempts[0].Outcome)
	assert.Equal(t, "empty_text", attempts[0].Detail)
	assert.Equal(t, models.OutcomeSuccess, attempts[1].Outcome)
}

func TestChainWebhookResultField(t *testing.T) {
	primary := testVision(visionServer(t, http.StatusInternalServerError, "boom"), "key")
	secondary := NewWebhookEngine(webhookServer(t, http.StatusOK, `{"result":"alt field"}`).URL, logger.NewTestLogger())

	res, _, err := newChain(primary, secondary, nil).Recognize(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "alt field", res.Text)
}

func TestChainAllFailedNamesBothEngines(t *testing.T) {
	primary := testVision(visionServer(t, http.StatusServiceUnavailable, "overloaded"), "key")
	secondary := NewWebhookEngine(webhookServer(t, http.StatusOK, `{"text":""}`).URL, logger.NewTestLogger())

	_, attempts, err := newChain(primary, secondary, nil).Recognize(context.Background(), testRequest())
	require.Error(t, err)

	var allFailed *AllFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Attempts, 2)
	assert.Equal(t, "gemini", allFailed.Attempts[0].Engine)
	assert.Contains(t, allFailed.Attempts[0].Detail, "http_503")
	assert.Equal(t, "paddle", allFailed.Attempts[1].Engine)
	assert.Equal(t, "empty_text", allFailed.Attempts[1].Detail)

	assert.Contains(t, err.Error(), "gemini")
	assert.Contains(t, err.Error(), "paddle")
	assert.Len(t, attempts, 2)
}

func TestChainUnconfiguredEnginesAreSkipped(t *testing.T) {
	primary := NewVisionEngine("", "m", "http://unused", logger.NewTestLogger())
	secondary := NewWebhookEngine("", logger.NewTestLogger())

	_, _, err := newChain(primary, secondary, nil).Recognize(context.Background(), testRequest())

	var allFailed *AllFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Attempts, 2)
	assert.Equal(t, models.OutcomeSkipped, allFailed.Attempts[0].Outcome)
	assert.Equal(t, "not_configured", allFailed.Attempts[0].Detail)
	assert.Equal(t, models.OutcomeSkipped, allFailed.Attempts[1].Outcome)
}

func TestChainForceFallbackSkipsPrimary(t *testing.T) {
	primaryCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalled = true
	}))
	t.Cleanup(srv.Close)
	primary := testVision(srv, "key")
	secondary := NewWebhookEngine(webhookServer(t, http.StatusOK, `{"text":"secondary"}`).URL, logger.NewTestLogger())

	req := testRequest()
	req.ForceFallback = true
	res, attempts, err := newChain(primary, secondary, nil).Recognize(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, primaryCalled)
	assert.Equal(t, "secondary", res.Engine)
	assert.Equal(t, "forced_fallback", attempts[0].Detail)
}

func TestChainRateLimitedShortCircuits(t *testing.T) {
	limiter := ratelimit.New(time.Minute, 1)
	primary := testVision(visionServer(t, http.StatusOK, visionBody("ok")), "key")
	secondary := NewWebhookEngine("", logger.NewTestLogger())
	chain := newChain(primary, secondary, limiter)

	_, _, err := chain.Recognize(context.Background(), testRequest())
	require.NoError(t, err)

	_, attempts, err := chain.Recognize(context.Background(), testRequest())
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Nil(t, attempts, "a rate-limit rejection is not an engine attempt")
}

func TestChainPayloadTooLarge(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)
	chain := NewChain(
		[]Engine{testVision(srv, "key")},
		nil,
		ChainConfig{MaxPayloadBytes: 10, CallTimeout: time.Second},
		logger.NewTestLogger(),
	)

	req := testRequest()
	req.Image = make([]byte, 11)
	_, _, err := chain.Recognize(context.Background(), req)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.False(t, called, "oversized payloads must be rejected before transmission")
}

func TestChainTimeoutIsEngineFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	chain := NewChain(
		[]Engine{testVision(srv, "key")},
		nil,
		ChainConfig{MaxPayloadBytes: 1 << 20, CallTimeout: 20 * time.Millisecond},
		logger.NewTestLogger(),
	)

	_, _, err := chain.Recognize(context.Background(), testRequest())
	var allFailed *AllFailedError
	require.ErrorAs(t, err, &allFailed)
	require.Len(t, allFailed.Attempts, 1)
	assert.Equal(t, models.OutcomeError, allFailed.Attempts[0].Outcome)
}
