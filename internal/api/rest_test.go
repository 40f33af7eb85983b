package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hbomb79/Medialink/internal/api"
	"github.com/hbomb79/Medialink/internal/extract"
	"github.com/hbomb79/Medialink/internal/resolve"
	"github.com/hbomb79/Medialink/internal/token"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	media *extract.RawMedia
	err   error
	calls atomic.Int32
}

func (fake *fakeExtractor) Extract(_ context.Context, _ string) (*extract.RawMedia, error) {
	fake.calls.Add(1)
	if fake.err != nil {
		return nil, fake.err
	}

	return fake.media.Clone(), nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type harness struct {
	gateway   *api.RestGateway
	codec     *token.Codec
	extractor *fakeExtractor
}

func sampleMedia() *extract.RawMedia {
	height := func(h int) *int { return &h }
	return &extract.RawMedia{
		ID:        "abc",
		Title:     "Sample",
		Extractor: "fake",
		Streams: []extract.RawStream{
			{FormatID: "18", UpstreamURL: "https://cdn.example.com/360.mp4", Ext: "mp4", Height: height(360), VideoCodec: "avc1", AudioCodec: "mp4a"},
			{FormatID: "22", UpstreamURL: "https://cdn.example.com/720.mp4", Ext: "mp4", Height: height(720), VideoCodec: "avc1", AudioCodec: "mp4a"},
			{FormatID: "140", UpstreamURL: "https://cdn.example.com/audio.m4a", Ext: "m4a", VideoCodec: "none", AudioCodec: "mp4a"},
		},
	}
}

func newHarness(t *testing.T, config api.RestConfig, extractor *fakeExtractor) *harness {
	codec, err := token.NewCodec([]byte(random.String(64)))
	require.NoError(t, err)

	orchestrator := resolve.New(resolve.Config{TokenTTL: 30 * time.Minute, ExtractTimeout: 5 * time.Second}, extractor, codec)
	gateway := api.NewRestGateway(&config, "test", orchestrator, codec, token.NewValidator(codec))

	return &harness{gateway: gateway, codec: codec, extractor: extractor}
}

func defaultHarness(t *testing.T) *harness {
	return newHarness(t, api.RestConfig{CORSOrigins: []string{"*"}}, &fakeExtractor{media: sampleMedia()})
}

func (h *harness) do(method string, target string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.gateway.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return env
}

func TestResolveEndpoint(t *testing.T) {
	h := defaultHarness(t)

	rec := h.do(http.MethodPost, "/resolve?url="+"https%3A%2F%2Fexample.com%2Fwatch%3Fv%3Dabc", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	assert.True(t, env.Success)

	var info map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &info))
	assert.Equal(t, "Sample", info["title"])

	formats, ok := info["formats"].([]any)
	require.True(t, ok)
	require.Len(t, formats, 3)
	for _, f := range formats {
		format := f.(map[string]any)
		assert.NotContains(t, format, "upstream_url", "upstream URLs must never be exposed")
		assert.NotContains(t, format, "UpstreamURL")

		tok := format["download_token"].(string)
		assert.Equal(t, "/download/"+tok, format["download_url"])
	}
	assert.NotContains(t, rec.Body.String(), "cdn.example.com")
}

func TestResolveEndpoint_JSONBody(t *testing.T) {
	h := defaultHarness(t)

	rec := h.do(http.MethodPost, "/resolve", `{"url": "https://example.com/watch?v=abc", "quality": "best"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var info resolve.MediaInfo
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &info))
	require.Len(t, info.Formats, 1)
	assert.Equal(t, "22", info.Formats[0].FormatID)
}

func TestResolveEndpoint_InvalidRequests(t *testing.T) {
	tests := []struct {
		summary string
		target  string
		body    string
		code    string
	}{
		{"missing url", "/resolve", "", "INVALID_URL"},
		{"not a url", "/resolve?url=not+a+url", "", "INVALID_URL"},
		{"wrong scheme", "/resolve?url=ftp%3A%2F%2Fexample.com%2Ffile", "", "INVALID_URL"},
		{"bad body", "/resolve", `{"url": `, "INVALID_REQUEST"},
		{"bad preference", "/resolve?url=https%3A%2F%2Fexample.com&quality=%3Cscript%3E", "", "INVALID_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			h := defaultHarness(t)

			rec := h.do(http.MethodPost, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
			assert.NotEmpty(t, env.Error)
			assert.EqualValues(t, 0, h.extractor.calls.Load())
		})
	}
}

func TestResolveEndpoint_ExtractionFailures(t *testing.T) {
	tests := []struct {
		summary string
		err     error
		status  int
		code    string
	}{
		{"unsupported site", fmt.Errorf("%w: Unsupported URL", extract.ErrUnsupportedSite), http.StatusUnprocessableEntity, "EXTRACTION_FAILED"},
		{"private content", fmt.Errorf("%w: Private video", extract.ErrUnavailable), http.StatusUnprocessableEntity, "EXTRACTION_FAILED"},
		{"extractor missing", extract.ErrExtractorMissing, http.StatusServiceUnavailable, "EXTRACTOR_UNAVAILABLE"},
		{"timeout", fmt.Errorf("killed: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "EXTRACTION_TIMEOUT"},
		{"unexpected", errors.New("boom"), http.StatusUnprocessableEntity, "EXTRACTION_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.summary, func(t *testing.T) {
			h := newHarness(t, api.RestConfig{}, &fakeExtractor{err: tt.err})

			rec := h.do(http.MethodPost, "/resolve?url=https%3A%2F%2Fexample.com%2Fv", "")
			assert.Equal(t, tt.status, rec.Code)

			env := decodeEnvelope(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestDownloadEndpoint_Redirects(t *testing.T) {
	h := defaultHarness(t)
	upstream := "https://cdn.example.com/video.mp4?sig=abc&expire=123"

	raw, err := h.codec.Issue(upstream, time.Minute)
	require.NoError(t, err)

	// Redemption is idempotent; the same token may be used repeatedly
	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodGet, "/download/"+raw, "")
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, upstream, rec.Header().Get("Location"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	}

	rec := h.do(http.MethodHead, "/download/"+raw, "")
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestDownloadEndpoint_Expired(t *testing.T) {
	h := defaultHarness(t)

	raw, _, err := h.codec.IssueAt("https://cdn.example.com/video.mp4", time.Now().Add(-time.Hour), time.Minute)
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/download/"+raw, "")
	assert.Equal(t, http.StatusGone, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "TOKEN_EXPIRED", env.Code)
}

func TestDownloadEndpoint_Invalid(t *testing.T) {
	h := defaultHarness(t)

	foreign, err := token.NewCodec([]byte("some other secret"))
	require.NoError(t, err)
	foreignToken, err := foreign.Issue("https://evil.example.com/", time.Minute)
	require.NoError(t, err)

	for _, raw := range []string{"garbage", "a.b.c", foreignToken} {
		rec := h.do(http.MethodGet, "/download/"+raw, "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("Location"))
		assert.Equal(t, "TOKEN_INVALID", decodeEnvelope(t, rec).Code)
	}
}

func TestResolveThenDownload(t *testing.T) {
	h := defaultHarness(t)

	rec := h.do(http.MethodPost, "/resolve?url=https%3A%2F%2Fexample.com%2Fv", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info resolve.MediaInfo
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &info))

	expected := map[string]string{
		"22":  "https://cdn.example.com/720.mp4",
		"18":  "https://cdn.example.com/360.mp4",
		"140": "https://cdn.example.com/audio.m4a",
	}
	for _, format := range info.Formats {
		rec := h.do(http.MethodGet, format.DownloadURL, "")
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, expected[format.FormatID], rec.Header().Get("Location"))
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := defaultHarness(t)

	rec := h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])
	assert.Equal(t, "test", status["version"])
	assert.Contains(t, status, "uptime_seconds")
	assert.Contains(t, status, "timestamp")
}

func TestInfoAndSupportedEndpoints(t *testing.T) {
	h := defaultHarness(t)

	rec := h.do(http.MethodGet, "/info?url=https%3A%2F%2Fexample.com%2Fv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &info))
	assert.Equal(t, "Sample", info["title"])
	assert.NotContains(t, info, "formats")

	rec = h.do(http.MethodGet, "/supported", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "youtube.com")

	rec = h.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Medialink")
}

func TestUnknownRoute(t *testing.T) {
	rec := defaultHarness(t).do(http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, "NOT_FOUND", env.Code)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, api.RestConfig{RateLimitPerMinute: 2}, &fakeExtractor{media: sampleMedia()})

	for i := 0; i < 2; i++ {
		rec := h.do(http.MethodGet, "/supported", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := h.do(http.MethodGet, "/supported", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeEnvelope(t, rec).Code)

	// Health checks are never limited
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", "").Code)
}

func TestRateLimit_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	h := newHarness(t, api.RestConfig{RateLimitPerMinute: 2}, &fakeExtractor{media: sampleMedia()})

	statuses := make(map[int]int)
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/supported", nil)
		req.Header.Set(echo.HeaderXForwardedFor, fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set(echo.HeaderXRealIP, fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		h.gateway.ServeHTTP(rec, req)
		statuses[rec.Code]++
	}

	assert.Equal(t, map[int]int{http.StatusOK: 2, http.StatusTooManyRequests: 8}, statuses)
}

func TestRateLimit_TrustedProxy(t *testing.T) {
	// httptest requests originate from 192.0.2.1
	h := newHarness(t, api.RestConfig{RateLimitPerMinute: 1, TrustedProxies: []string{"192.0.2.0/24"}}, &fakeExtractor{media: sampleMedia()})

	request := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/supported", nil)
		req.Header.Set(echo.HeaderXForwardedFor, client)
		rec := httptest.NewRecorder()
		h.gateway.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, request("203.0.113.1"))
	assert.Equal(t, http.StatusOK, request("203.0.113.2"), "each forwarded client has its own budget")
	assert.Equal(t, http.StatusTooManyRequests, request("203.0.113.1"))
}

func TestCORS(t *testing.T) {
	h := newHarness(t, api.RestConfig{CORSOrigins: []string{"https://app.example.com"}}, &fakeExtractor{media: sampleMedia()})

	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.gateway.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
