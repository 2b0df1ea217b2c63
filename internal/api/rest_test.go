package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/priyankadasarigt/ytdown/internal/activity"
	"github.com/priyankadasarigt/ytdown/internal/api"
	"github.com/priyankadasarigt/ytdown/internal/extract"
	"github.com/priyankadasarigt/ytdown/internal/job"
	"github.com/priyankadasarigt/ytdown/internal/metrics"
	"github.com/priyankadasarigt/ytdown/internal/token"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const frontend = "https://frontend.example"

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type mockJobService struct {
	mock.Mock
}

func (mock *mockJobService) Submit(tokenValue string, params job.Params) (uuid.UUID, error) {
	args := mock.Called(tokenValue, params)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (mock *mockJobService) Lookup(id uuid.UUID) (job.Job, error) {
	args := mock.Called(id)
	return args.Get(0).(job.Job), args.Error(1)
}

func (mock *mockJobService) Sweep() { mock.Called() }

type mockFetcher struct {
	mock.Mock
}

func (mock *mockFetcher) FetchFormats(_ context.Context, url string) (*extract.FormatListing, error) {
	args := mock.Called(url)
	listing, _ := args.Get(0).(*extract.FormatListing)
	return listing, args.Error(1)
}

type harness struct {
	gateway *api.RestGateway
	ledger  *token.Ledger
	jobs    *mockJobService
	fetcher *mockFetcher
}

func newHarness(t *testing.T) *harness {
	ledger := token.NewLedger(token.DefaultConfig())
	jobs := &mockJobService{}
	jobs.On("Sweep").Return().Maybe()
	fetcher := &mockFetcher{}

	config := &api.RestConfig{HostAddr: "127.0.0.1:0", FrontendURL: frontend, RequestRate: 1000, RequestBurst: 1000}
	gateway := api.NewRestGateway(config, ledger, jobs, fetcher, metrics.NewCollector(), activity.NewTracker(nil))

	t.Cleanup(func() {
		jobs.AssertExpectations(t)
		fetcher.AssertExpectations(t)
	})

	return &harness{gateway: gateway, ledger: ledger, jobs: jobs, fetcher: fetcher}
}

func (h *harness) do(method string, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.gateway.ServeHTTP(rec, req)
	return rec
}

func (h *harness) issue(t *testing.T) string {
	tok, err := h.ledger.Issue("test-client")
	require.NoError(t, err)
	return tok.Value
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func Test_Status(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "online"}, decode(t, rec))

	rec = h.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "online", body["status"])
	assert.Contains(t, body, "idle_minutes")
}

func Test_RequestToken(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 10; i++ {
		rec := h.do(http.MethodPost, "/api/request_token", "", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"})
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)

		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(300), body["expires_in"])
		assert.True(t, h.ledger.Validate(body["token"].(string)))
	}

	rec := h.do(http.MethodPost, "/api/request_token", "", map[string]string{"X-Forwarded-For": "198.51.100.1"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Rate limit exceeded. Try again later.", decode(t, rec)["error"])

	rec = h.do(http.MethodPost, "/api/request_token", "", map[string]string{"X-Forwarded-For": "198.51.100.2"})
	assert.Equal(t, http.StatusOK, rec.Code, "other clients are unaffected")
}

func Test_FetchFormats(t *testing.T) {
	t.Run("requires token", func(t *testing.T) {
		h := newHarness(t)

		rec := h.do(http.MethodPost, "/api/fetch_formats", `{"url":"https://example.com/v"}`, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid or expired token", decode(t, rec)["error"])

		rec = h.do(http.MethodPost, "/api/fetch_formats", `{"url":"https://example.com/v"}`, map[string]string{"X-Token": "forged"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("requires url", func(t *testing.T) {
		h := newHarness(t)
		tok := h.issue(t)

		rec := h.do(http.MethodPost, "/api/fetch_formats", `{}`, map[string]string{"X-Token": tok})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "URL is required", decode(t, rec)["error"])
	})

	t.Run("returns listing without consuming token", func(t *testing.T) {
		h := newHarness(t)
		tok := h.issue(t)
		h.fetcher.On("FetchFormats", "https://example.com/v").Return(&extract.FormatListing{
			Title:        "Clip",
			VideoFormats: []extract.VideoFormat{{FormatID: "137", Quality: "1080p", Ext: "mp4"}},
			AudioFormats: []extract.AudioFormat{},
			AllFormats:   json.RawMessage(`[]`),
		}, nil).Once()

		rec := h.do(http.MethodPost, "/api/fetch_formats", `{"url":"https://example.com/v"}`, map[string]string{"X-Token": tok})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Clip", body["title"])
		assert.Nil(t, body["best_audio"])
		assert.Contains(t, body, "best_audio")
		assert.Empty(t, body["audio_formats"])
		assert.Len(t, body["video_formats"], 1)

		assert.True(t, h.ledger.Validate(tok), "token remains usable after format discovery")
	})

	t.Run("extraction failure", func(t *testing.T) {
		h := newHarness(t)
		tok := h.issue(t)
		h.fetcher.On("FetchFormats", "https://example.com/private").
			Return(nil, &extract.Error{Op: "fetch formats", Message: "ERROR: Private video"}).Once()

		rec := h.do(http.MethodPost, "/api/fetch_formats", `{"url":"https://example.com/private"}`, map[string]string{"X-Token": tok})
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "ERROR: Private video", decode(t, rec)["error"])
	})
}

func Test_Download(t *testing.T) {
	completeID, fallbackID, missingID := uuid.New(), uuid.New(), uuid.New()

	h := newHarness(t)
	h.jobs.On("Lookup", completeID).Return(job.Job{ID: completeID, State: job.COMPLETE, Result: &job.Result{
		DownloadURL: "https://cdn.example/download/clip.mp4",
		DisplayName: "[YTDown] clip.mp4",
	}}, nil)
	h.jobs.On("Lookup", fallbackID).Return(job.Job{ID: fallbackID, State: job.COMPLETE, Result: &job.Result{
		DisplayName: "[YTDown] clip.mp4",
		Fallback:    true,
	}}, nil)
	h.jobs.On("Lookup", missingID).Return(job.Job{}, job.ErrJobNotFound)

	tok := h.issue(t)
	headers := map[string]string{"X-Token": tok}

	rec := h.do(http.MethodGet, "/api/download/"+completeID.String(), "", headers)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{
		"success":      true,
		"download_url": "https://cdn.example/download/clip.mp4",
		"filename":     "[YTDown] clip.mp4",
	}, decode(t, rec))

	rec = h.do(http.MethodGet, "/api/download/"+fallbackID.String(), "", headers)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Download not available", decode(t, rec)["error"])

	rec = h.do(http.MethodGet, "/api/download/"+missingID.String(), "", headers)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Download not found", decode(t, rec)["error"])

	rec = h.do(http.MethodGet, "/api/download/not-a-uuid", "", headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/api/download/"+completeID.String(), "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func Test_CORS(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodOptions, "/api/fetch_formats", "", map[string]string{
		"Origin":                        frontend,
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, frontend, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Token")
}

func Test_Metrics(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/api/request_token", "", nil)

	rec := h.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ytdown_tokens_issued_total 1")
}

func Test_RequestRateLimit(t *testing.T) {
	ledger := token.NewLedger(token.DefaultConfig())
	jobs := &mockJobService{}
	config := &api.RestConfig{FrontendURL: frontend, RequestRate: 1, RequestBurst: 2}
	gateway := api.NewRestGateway(config, ledger, jobs, &mockFetcher{}, metrics.NewCollector(), activity.NewTracker(nil))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.20:1000"
		rec := httptest.NewRecorder()
		gateway.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

type wireMessage struct {
	Title string                 `json:"title"`
	Body  map[string]interface{} `json:"arguments"`
	Id    int                    `json:"id"`
	Type  int                    `json:"type"`
}

func Test_DownloadVideoCommand(t *testing.T) {
	h := newHarness(t)
	tok := h.issue(t)
	jobID := uuid.New()
	params := job.Params{URL: "https://example.com/v", VideoCode: "137", AudioCode: "140", SessionID: "session-1"}

	h.jobs.On("Submit", tok, params).Return(jobID, nil).Once()
	h.jobs.On("Submit", "expired", mock.Anything).Return(uuid.Nil, token.ErrInvalidToken).Once()

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		h.gateway.Socket().Start(ctx)
	}()
	defer func() {
		cancel()
		<-hubDone
	}()
	require.Eventually(t, h.gateway.Socket().Running, time.Second, 5*time.Millisecond)

	server := httptest.NewServer(h.gateway)
	defer server.Close()

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", http.Header{"Origin": []string{frontend}})
	require.NoError(t, err)
	defer conn.Close()

	read := func() wireMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg wireMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.Equal(t, "CONNECTION_ESTABLISHED", read().Title)

	require.NoError(t, conn.WriteJSON(wireMessage{Title: api.COMMAND_DOWNLOAD_VIDEO, Id: 1, Type: 1, Body: map[string]interface{}{
		"token": "expired", "url": "https://example.com/v", "video_code": "137", "audio_code": "140", "session_id": "session-1",
	}}))
	reply := read()
	assert.Equal(t, activity.TITLE_DOWNLOAD_ERROR, reply.Title)
	assert.Equal(t, "Invalid or expired token", reply.Body["error"])

	require.NoError(t, conn.WriteJSON(wireMessage{Title: api.COMMAND_DOWNLOAD_VIDEO, Id: 2, Type: 1, Body: map[string]interface{}{
		"token": tok, "url": "https://example.com/v", "video_code": 137, "audio_code": "140", "session_id": "session-1",
	}}))
	reply = read()
	assert.Equal(t, api.TITLE_COMMAND_SUCCESS, reply.Title)
	assert.Equal(t, 2, reply.Id)
	assert.Equal(t, jobID.String(), reply.Body["download_id"])

	h.gateway.Socket().SendToSession("session-1", activity.TITLE_DOWNLOAD_PROGRESS, map[string]interface{}{"percent": "5.0%"})
	update := read()
	assert.Equal(t, activity.TITLE_DOWNLOAD_PROGRESS, update.Title)
	assert.Equal(t, "5.0%", update.Body["percent"])
}
