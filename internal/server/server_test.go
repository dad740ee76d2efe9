package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ZaguanLabs/coach/internal/coach"
	"github.com/ZaguanLabs/coach/internal/config"
	"github.com/ZaguanLabs/coach/internal/conversation"
	coachErrors "github.com/ZaguanLabs/coach/internal/errors"
	"github.com/ZaguanLabs/coach/internal/mocks"
)

type fixture struct {
	helper *mocks.TestHelper
	svc    *coach.Service
	server *Server
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T, mutate func(*config.ServerConfig)) *fixture {
	t.Helper()
	h := mocks.NewTestHelper()
	svc, err := coach.New(h.Store, h.Provider, coach.Options{SystemPrompt: "coach"})
	require.NoError(t, err)

	cfg := config.Default().Server
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	core, logs := observer.New(zap.DebugLevel)
	srv, err := NewServer(svc, zap.New(core), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(srv.close)

	return &fixture{helper: h, svc: svc, server: srv, logs: logs}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop(), config.ServerConfig{}, nil)
	assert.Error(t, err)

	svc, err := coach.New(mocks.NewMockStore(), mocks.NewMockProvider(), coach.Options{})
	require.NoError(t, err)
	_, err = NewServer(svc, nil, config.ServerConfig{}, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HealthResponse{Status: "ok", Provider: "mock"}, decode[HealthResponse](t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCoach_Stateless(t *testing.T) {
	f := newFixture(t, nil)
	f.helper.Provider.SetResponse("それはつらいですね")

	rec := f.do(t, http.MethodPost, "/api/coach", `{"message":"仕事がつらい","history":[{"role":"user","content":"こんにちは"},{"role":"assistant","content":"どうしましたか"}]}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "それはつらいですね", decode[CoachResponse](t, rec).Reply)

	req, ok := f.helper.Provider.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "仕事がつらい", req.Message)
	assert.Len(t, req.History, 2)

	list, err := f.helper.Store.ListConversations(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCoach_Errors(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/coach", `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", decode[ErrorResponse](t, rec).Code)

	rec = f.do(t, http.MethodPost, "/api/coach", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.helper.Provider.SetError(coachErrors.NewProviderError("mock", 503, "upstream down at 10.0.0.1", nil))
	rec = f.do(t, http.MethodPost, "/api/coach", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, coachErrors.PublicMessageTransport, body.Error)
	assert.Equal(t, "PROVIDER_503", body.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
}

func TestConversationLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	f.helper.Provider.SetResponse("続けてください")

	rec := f.do(t, http.MethodPost, "/api/conversations", `{"title":"転職"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[conversation.Conversation](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "転職", created.Title)

	base := "/api/conversations/" + created.ID

	rec = f.do(t, http.MethodPost, base+"/messages", `{"content":"迷っています"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ex := decode[conversation.Exchange](t, rec)
	assert.Equal(t, "迷っています", ex.User.Content)
	assert.Equal(t, "続けてください", ex.Assistant.Content)
	require.NotNil(t, ex.Insights)
	assert.Equal(t, "最近のテーマ：迷っています", ex.Insights.Summary)

	rec = f.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[conversation.Conversation](t, rec).Messages, 2)

	rec = f.do(t, http.MethodPatch, base, `{"title":"キャリア"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "キャリア", decode[conversation.Conversation](t, rec).Title)

	rec = f.do(t, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListResponse](t, rec)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, 2, list.Conversations[0].MessageCount)

	rec = f.do(t, http.MethodPost, base+"/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[conversation.Conversation](t, rec)
	assert.Empty(t, reset.Messages)
	assert.Nil(t, reset.Insights)
	assert.Equal(t, conversation.DefaultTitle, reset.Title)

	rec = f.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[ErrorResponse](t, rec).Code)
}

func TestGetConversation_CreatesDefault(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/conversations/"+conversation.DefaultID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[conversation.Conversation](t, rec)
	assert.Equal(t, conversation.DefaultID, conv.ID)
	assert.Equal(t, conversation.DefaultTitle, conv.Title)
	assert.Empty(t, conv.Messages)
}

func TestSendMessage_FailurePersistsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.helper.Seed(t, "c1", 0)
	f.helper.Provider.SetError(coachErrors.NewNetworkError("http://x", "refused", 0, nil))

	rec := f.do(t, http.MethodPost, "/api/conversations/c1/messages", `{"content":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	conv, err := f.helper.Store.LoadConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, conv.Messages)
}

func TestSendMessage_Busy(t *testing.T) {
	f := newFixture(t, nil)
	release := f.helper.Provider.Hold()

	done := make(chan int, 1)
	go func() {
		done <- f.do(t, http.MethodPost, "/api/conversations/c1/messages", `{"content":"first"}`).Code
	}()
	require.NoError(t, mocks.WaitForCompletion(time.Second, func() bool { return f.svc.Busy("c1") }))

	rec := f.do(t, http.MethodPost, "/api/conversations/c1/messages", `{"content":"second"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BUSY", decode[ErrorResponse](t, rec).Code)

	release()
	assert.Equal(t, http.StatusOK, <-done)
}

func TestSendMessage_RequestTimeout(t *testing.T) {
	f := newFixture(t, func(c *config.ServerConfig) { c.RequestTimeout = 30 * time.Millisecond })
	f.helper.Provider.SetDelay(time.Second)

	rec := f.do(t, http.MethodPost, "/api/conversations/c1/messages", `{"content":"slow"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "TIMEOUT", decode[ErrorResponse](t, rec).Code)
}

func TestInsights(t *testing.T) {
	f := newFixture(t, nil)
	f.helper.Seed(t, "c1", 2)

	rec := f.do(t, http.MethodGet, "/api/conversations/c1/insights?profile=wide", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[conversation.Insights](t, rec)
	assert.Equal(t, "最近のテーマ：message 0", preview.Summary)
	assert.InDelta(t, 0.25, preview.Confidence, 1e-9)

	conv, err := f.helper.Store.LoadConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Nil(t, conv.Insights)

	rec = f.do(t, http.MethodPost, "/api/conversations/c1/insights", "")
	require.Equal(t, http.StatusOK, rec.Code)
	conv, err = f.helper.Store.LoadConversation(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, conv.Insights)
	assert.InDelta(t, 0.2, conv.Insights.Confidence, 1e-9)

	rec = f.do(t, http.MethodGet, "/api/conversations/c1/insights?profile=tablet", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListConversations_BadLimit(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/conversations?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/conversations?limit=-1", "").Code)
}

func TestStorageFailure_IsInternal(t *testing.T) {
	f := newFixture(t, nil)
	f.helper.Store.SetError("list", coachErrors.NewStorageError("list", "disk gone /var/lib/coach.db", nil))

	rec := f.do(t, http.MethodGet, "/api/conversations", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/var/lib")
	assert.Equal(t, 1, f.logs.FilterMessage("request failed").Len())
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *config.ServerConfig) { c.RateLimit = 2 })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/coach", `{"message":"hi"}`).Code)
	}

	rec := f.do(t, http.MethodPost, "/api/coach", `{"message":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.Equal(t, coachErrors.PublicMessageRateLimited, body.Error)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)

	metrics := f.do(t, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, metrics, "coach_rate_limit_clients 1")
	assert.Contains(t, metrics, "coach_rate_limited_total 1")
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, func(c *config.ServerConfig) { c.BodyLimit = "1K" })

	big := `{"message":"` + strings.Repeat("a", 2048) + `"}`
	assert.Equal(t, http.StatusRequestEntityTooLarge, f.do(t, http.MethodPost, "/api/coach", big).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodGet, "/health", "")
	f.server.metrics.ObserveProvider("mock", "success", 10*time.Millisecond)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `coach_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, `coach_provider_requests_total{outcome="success",provider="mock"} 1`)
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.server.config.Host = "127.0.0.1"
	f.server.config.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
