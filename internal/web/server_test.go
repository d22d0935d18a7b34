package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/upcguard/internal/config"
	"github.com/JonMunkholm/upcguard/internal/core"
	"github.com/JonMunkholm/upcguard/internal/store"
)

type runJSON struct {
	ID              string `json:"id"`
	FileName        string `json:"fileName"`
	Status          string `json:"status"`
	ProgressPercent int    `json:"progressPercent"`
	ErrorMessage    string `json:"errorMessage"`
}

type pageJSON struct {
	Conflicts []struct {
		ID          string   `json:"id"`
		Type        string   `json:"type"`
		Severity    string   `json:"severity"`
		Status      string   `json:"status"`
		UPC         string   `json:"upc"`
		Products    []string `json:"products"`
		Suggestions []string `json:"suggestions"`
	} `json:"conflicts"`
	Total   int `json:"total"`
	Summary struct {
		BySeverity map[string]int `json:"bySeverity"`
	} `json:"summary"`
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Upload: config.UploadConfig{MaxFileSize: 1 << 20},
	}
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *core.Service) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	svc := core.NewService(store.NewMemory(), nil, core.Options{SpoolDir: t.TempDir()})
	return NewServer(svc, cfg), svc
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.RemoteAddr = "192.0.2.10:5000"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func waitRun(t *testing.T, svc *core.Service, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := svc.WaitForRun(ctx, id)
	require.NoError(t, err)
}

func uploadAndWait(t *testing.T, s *Server, svc *core.Service, fileName, content string) runJSON {
	t.Helper()
	rec := do(t, s, uploadRequest(t, fileName, content, nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	run := decode[runJSON](t, rec)
	assert.Equal(t, "/api/analyses/"+run.ID, rec.Header().Get("Location"))
	waitRun(t, svc, run.ID)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/"+run.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[runJSON](t, rec)
}

func spoolEntries(t *testing.T, svc *core.Service) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(svc.SpoolDir())
	require.NoError(t, err)
	return entries
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestUpload_AnalyzesAndListsConflicts(t *testing.T) {
	s, svc := newTestServer(t, nil)

	run := uploadAndWait(t, s, svc, "inventory.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n012345678912,C\n")
	require.Equal(t, "COMPLETED", run.Status, run.ErrorMessage)
	assert.Equal(t, "inventory.csv", run.FileName)
	assert.Equal(t, 100, run.ProgressPercent)
	assert.Empty(t, spoolEntries(t, svc), "spooled upload removed once the run completes")

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/"+run.ID+"/conflicts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[pageJSON](t, rec)
	require.Equal(t, 1, page.Total)
	c := page.Conflicts[0]
	assert.Equal(t, "DUPLICATE_UPC", c.Type)
	assert.Equal(t, "LOW", c.Severity)
	assert.Equal(t, "NEW", c.Status)
	assert.Equal(t, "012345678905", c.UPC)
	assert.Equal(t, []string{"A", "B"}, c.Products)
	assert.NotEmpty(t, c.Suggestions)
	assert.Equal(t, 1, page.Summary.BySeverity["LOW"])

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Analyses []runJSON `json:"analyses"`
	}](t, rec)
	require.Len(t, list.Analyses, 1)
	assert.Equal(t, run.ID, list.Analyses[0].ID)
}

func TestListConflicts_Filters(t *testing.T) {
	s, svc := newTestServer(t, nil)
	run := uploadAndWait(t, s, svc, "inventory.csv",
		"UPC,SKU\n012345678905,A\n012345678905,B\n012345678912,B\n")
	require.Equal(t, "COMPLETED", run.Status, run.ErrorMessage)

	base := "/api/analyses/" + run.ID + "/conflicts"
	tests := []struct {
		query     string
		wantCode  int
		wantTotal int
	}{
		{"", http.StatusOK, 2},
		{"?kind=duplicate_upc", http.StatusOK, 1},
		{"?kind=MULTI_UPC_PRODUCT", http.StatusOK, 1},
		{"?severity=low", http.StatusOK, 2},
		{"?severity=critical", http.StatusOK, 0},
		{"?status=NEW", http.StatusOK, 2},
		{"?limit=1", http.StatusOK, 2},
		{"?kind=bogus", http.StatusBadRequest, 0},
		{"?severity=extreme", http.StatusBadRequest, 0},
		{"?status=DONE", http.StatusBadRequest, 0},
		{"?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, s, httptest.NewRequest(http.MethodGet, base+tt.query, nil))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, tt.wantTotal, decode[pageJSON](t, rec).Total)
			} else {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}

	rec := do(t, s, httptest.NewRequest(http.MethodGet, base+"?limit=1", nil))
	assert.Len(t, decode[pageJSON](t, rec).Conflicts, 1)
}

func TestUpload_NeedsMappingThenResume(t *testing.T) {
	s, svc := newTestServer(t, nil)
	run := uploadAndWait(t, s, svc, "export.csv", "Col1,Col2\n012345678905,AB-1\n012345678905,AB-2\n012345678912,AB-2\n")
	require.Equal(t, "NEEDS_MAPPING", run.Status, run.ErrorMessage)
	assert.Len(t, spoolEntries(t, svc), 1, "spool kept for the mapping correction")

	path := "/api/analyses/" + run.ID + "/mapping"

	rec := do(t, s, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"mapping":{"upc":"Col1","sku":"Missing"}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MAP002", decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"columns":{}}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"mapping":{"upc":"Col1","sku":"Col2"}}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	waitRun(t, svc, run.ID)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/"+run.ID+"/conflicts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[pageJSON](t, rec).Total)
	assert.Empty(t, spoolEntries(t, svc))

	rec = do(t, s, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"mapping":{"upc":"Col1","sku":"Col2"}}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "RUN006", decode[ErrorResponse](t, rec).Code)
}

func TestUpload_WithMappingAndThresholds(t *testing.T) {
	s, svc := newTestServer(t, nil)
	rec := do(t, s, uploadRequest(t, "export.csv",
		"Col1,Col2\n012345678905,AB-1\n012345678905,AB-2\n",
		map[string]string{
			"mapping":    `{"upc":"Col1","sku":"Col2"}`,
			"thresholds": `{"low":2,"medium":2,"high":3,"critical":4}`,
		}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[runJSON](t, rec).ID
	waitRun(t, svc, id)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/"+id+"/conflicts", nil))
	page := decode[pageJSON](t, rec)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "MEDIUM", page.Conflicts[0].Severity)
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		maxSize  int64
		req      func(t *testing.T) *http.Request
		wantCode int
		wantErr  string
	}{
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/analyses", strings.NewReader("UPC,SKU"))
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "no file",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", "", map[string]string{"mapping": `{"upc":"A","sku":"B"}`})
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "FMT005",
		},
		{
			name:    "too large",
			maxSize: 8,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "big.csv", "UPC,SKU\n012345678905,A\n", nil)
			},
			wantCode: http.StatusRequestEntityTooLarge,
			wantErr:  "FMT004",
		},
		{
			name: "bad mapping json",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "a.csv", "UPC,SKU\n012345678905,A\n", map[string]string{"mapping": "{"})
			},
			wantCode: http.StatusBadRequest,
		},
		{
			name: "invalid thresholds",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "a.csv", "UPC,SKU\n012345678905,A\n",
					map[string]string{"thresholds": `{"low":1,"medium":5,"high":10,"critical":50}`})
			},
			wantCode: http.StatusBadRequest,
			wantErr:  "MAP003",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, svc := newTestServer(t, func(c *config.Config) {
				if tt.maxSize > 0 {
					c.Upload.MaxFileSize = tt.maxSize
				}
			})
			rec := do(t, s, tt.req(t))
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decode[ErrorResponse](t, rec).Code)
			}
			assert.Empty(t, spoolEntries(t, svc), "rejected uploads leave nothing behind")
		})
	}
}

func TestAnalysis_NotFoundAndConflictErrors(t *testing.T) {
	s, svc := newTestServer(t, nil)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RUN001", decode[ErrorResponse](t, rec).Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/nope/conflicts", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/nope/progress", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/conflicts/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CFL001", decode[ErrorResponse](t, rec).Code)

	run := uploadAndWait(t, s, svc, "a.csv", "UPC,SKU\n012345678905,A\n")
	rec = do(t, s, httptest.NewRequest(http.MethodPost, "/api/analyses/"+run.ID+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "RUN006", decode[ErrorResponse](t, rec).Code)
}

func TestCancel_NeedsMappingRun(t *testing.T) {
	s, svc := newTestServer(t, nil)
	run := uploadAndWait(t, s, svc, "export.csv", "Col1,Col2\n012345678905,AB-1\n")
	require.Equal(t, "NEEDS_MAPPING", run.Status)

	rec := do(t, s, httptest.NewRequest(http.MethodPost, "/api/analyses/"+run.ID+"/cancel", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/"+run.ID, nil))
	got := decode[runJSON](t, rec)
	assert.Equal(t, "FAILED", got.Status)
	assert.Contains(t, got.ErrorMessage, "RUN003")
	assert.Empty(t, spoolEntries(t, svc))
}

func TestUpdateConflict_Workflow(t *testing.T) {
	s, svc := newTestServer(t, nil)
	run := uploadAndWait(t, s, svc, "a.csv", "UPC,SKU\n012345678905,A\n012345678905,B\n")
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/"+run.ID+"/conflicts", nil))
	id := decode[pageJSON](t, rec).Conflicts[0].ID
	path := "/api/conflicts/" + id

	patch := func(body string) *httptest.ResponseRecorder {
		return do(t, s, httptest.NewRequest(http.MethodPatch, path, strings.NewReader(body)))
	}

	rec = patch(`{"status":"assigned"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = patch(`{"status":"RESOLVED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CFL002", decode[ErrorResponse](t, rec).Code)

	rec = patch(`{"state":"NEW"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		Status      string   `json:"status"`
		Suggestions []string `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "ASSIGNED", view.Status)
	assert.NotEmpty(t, view.Suggestions)
}

func TestProgress_FinishedRunStreamsTerminalEvent(t *testing.T) {
	s, svc := newTestServer(t, nil)
	run := uploadAndWait(t, s, svc, "a.csv", "UPC,SKU\n012345678905,A\n")

	for _, q := range []string{"", "?lastEventId=100"} {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/analyses/"+run.ID+"/progress"+q, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		body := rec.Body.String()
		assert.Contains(t, body, "id: 100\nevent: progress\n")
		assert.Contains(t, body, `"status":"COMPLETED"`)
		assert.True(t, strings.HasSuffix(body, "event: complete\ndata: {}\n\n"), body)
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs core.RunLimiterStatus `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, core.DefaultMaxConcurrentRuns, body.Runs.MaxConcurrent)
	assert.Zero(t, body.Runs.Active)
}

func TestAPIKeyRequired(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}
	})

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "k1")
	rec = do(t, s, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, UploadLimit: 1}
	})

	for i := 0; i < 2; i++ {
		rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "REQ003", decode[ErrorResponse](t, rec).Code)

	other := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	other.RemoteAddr = "198.51.100.7:9000"
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per client IP")
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("a"))
	}
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrRunNotFound, http.StatusNotFound},
		{core.ErrConflictNotFound, http.StatusNotFound},
		{core.ErrRunNotResumable, http.StatusConflict},
		{core.ErrRunImmutable, http.StatusConflict},
		{core.ErrInvalidTransition, http.StatusConflict},
		{core.ErrSourceUnavailable, http.StatusGone},
		{core.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{core.ErrTooManyRuns, http.StatusServiceUnavailable},
		{core.ErrShuttingDown, http.StatusServiceUnavailable},
		{errRateLimited, http.StatusTooManyRequests},
		{errNoFile, http.StatusBadRequest},
		{core.ErrInvalidThresholds, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRespondError_RetryAfterWhenBusy(t *testing.T) {
	rec := httptest.NewRecorder()
	respondError(rec, httptest.NewRequest(http.MethodPost, "/api/analyses", nil), core.ErrTooManyRuns)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "RUN002", resp.Code)
	assert.NotEmpty(t, resp.Action)
}

func TestRespondError_HidesTechnicalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	err := fmt.Errorf("load run 7f3a from postgres: %w", core.ErrRunNotFound)
	respondError(rec, httptest.NewRequest(http.MethodGet, "/api/analyses/7f3a", nil), err)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "postgres")
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "RUN001", resp.Code)
	assert.Equal(t, resp.Message, resp.Error)
}
