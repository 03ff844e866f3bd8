package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docsum/internal/backend"
	"github.com/dgallion1/docsum/internal/config"
	"github.com/dgallion1/docsum/internal/pipeline"
	"github.com/dgallion1/docsum/internal/summarize"
	"github.com/dgallion1/docsum/internal/tokens"
)

const testKey = "secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoProvider answers every request with the first word of its last
// message, after the "Text:" label when present.
func echoProvider(_ context.Context, req backend.Request) (*backend.Response, error) {
	content := req.Messages[len(req.Messages)-1].Content
	if i := strings.Index(content, "Text:\n"); i >= 0 {
		content = content[i+len("Text:\n"):]
	}
	return &backend.Response{
		Text:  strings.Fields(content)[0],
		Model: req.Model,
		Usage: backend.Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *backend.Client) {
	t.Helper()
	log := discardLogger()
	counter := tokens.Estimator{Ratio: 1}
	client := backend.NewClient(backend.ProviderFunc(echoProvider), backend.ClientConfig{Name: "fake"}, log)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Summarizer:  summarize.NewSummarizer(client, counter, nil, summarize.Options{Model: "small"}, log),
		Synthesizer: summarize.NewSynthesizer(client, counter, nil, "large", summarize.DefaultSynthesisContext, log),
		Counter:     counter,
		Params:      summarize.Params{TargetSummarySize: 5, SummaryInputSize: 100},
	}, pipeline.Settings{ChunkTokens: 100, WorkerCount: 1}, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	cfg := config.Defaults()
	cfg.DocsumAPIKey = testKey
	cfg.MaxUploadBytes = 1024

	srv := httptest.NewServer(NewServer(orch, client, log, cfg))
	t.Cleanup(srv.Close)
	return srv, client
}

func do(t *testing.T, method, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func waitDone(t *testing.T, base, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap := decode(t, do(t, http.MethodGet, base+"/api/summarize/"+id, "", nil))
		switch snap["status"] {
		case "completed", "partial", "failed":
			return snap
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestHealth_NoAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics_Exposed(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/summarize", "application/json", strings.NewReader(`{"text":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/stats/llm", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSummarize_InlineText(t *testing.T) {
	srv, _ := newTestServer(t)

	text := strings.Repeat("alpha beta gamma delta. ", 20)
	body, _ := json.Marshal(map[string]string{"text": text, "title": "greek"})
	resp := do(t, http.MethodPost, srv.URL+"/api/summarize", "application/json", bytes.NewReader(body))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	accepted := decode(t, resp)
	id, _ := accepted["job_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "greek", accepted["source"])

	snap := waitDone(t, srv.URL, id)
	assert.Equal(t, "completed", snap["status"])
	summary, ok := snap["summary"].(map[string]any)
	require.True(t, ok, "summary missing: %v", snap)
	assert.NotEmpty(t, summary["text"])
	assert.Equal(t, false, summary["partial"])
}

func TestSummarize_FileUpload(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	io.WriteString(fw, strings.Repeat("one two three four five six. ", 5))
	require.NoError(t, mw.Close())

	resp := do(t, http.MethodPost, srv.URL+"/api/summarize", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id := decode(t, resp)["job_id"].(string)

	snap := waitDone(t, srv.URL, id)
	assert.Equal(t, "completed", snap["status"])
	assert.Equal(t, "notes", snap["title"])
}

func TestSummarize_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"empty", `{}`, http.StatusBadRequest},
		{"both", `{"url":"https://example.com","text":"x"}`, http.StatusBadRequest},
		{"malformed", `{"text":`, http.StatusBadRequest},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/summarize", "application/json", strings.NewReader(c.body))
			assert.Equal(t, c.want, resp.StatusCode)
		})
	}
}

func TestSummarize_UnsupportedFile(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "deck.pptx")
	io.WriteString(fw, "x")
	mw.Close()

	resp := do(t, http.MethodPost, srv.URL+"/api/summarize", mw.FormDataContentType(), &buf)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "unsupported file type")
}

func TestSummarize_FileTooLarge(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "big.txt")
	io.WriteString(fw, strings.Repeat("x", 2000))
	mw.Close()

	resp := do(t, http.MethodPost, srv.URL+"/api/summarize", mw.FormDataContentType(), &buf)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestBatchSummarize(t *testing.T) {
	srv, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.exe", "c.md"} {
		fw, _ := mw.CreateFormFile("files", name)
		io.WriteString(fw, "some words for "+name)
	}
	mw.Close()

	resp := do(t, http.MethodPost, srv.URL+"/api/summarize/batch", mw.FormDataContentType(), &buf)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	jobs, ok := decode(t, resp)["jobs"].([]any)
	require.True(t, ok)
	require.Len(t, jobs, 3)
	assert.NotEmpty(t, jobs[0].(map[string]any)["job_id"])
	assert.Contains(t, jobs[1].(map[string]any)["error"], "unsupported")
	assert.NotEmpty(t, jobs[2].(map[string]any)["job_id"])
}

func TestStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodGet, srv.URL+"/api/summarize/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLLMStats(t *testing.T) {
	srv, client := newTestServer(t)

	_, err := client.Complete(context.Background(), backend.Request{
		Model:    "small",
		Messages: []backend.Message{{Role: backend.RoleUser, Content: "hello there"}},
	})
	require.NoError(t, err)

	resp := do(t, http.MethodGet, srv.URL+"/api/stats/llm", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "fake", out["backend"])
	stats, ok := out["stats"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, stats, "small")
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd": "passwd",
		"dir/notes.txt":    "notes.txt",
		"":                 "unnamed",
		"a..b.txt":         "a_b.txt",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeFilename(in), in)
	}
}
