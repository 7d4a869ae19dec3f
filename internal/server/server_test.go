package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"docmind/internal/app"
	"docmind/internal/rag"
	"docmind/pkg/ai"
	"docmind/pkg/queue"
	"docmind/pkg/storage"
	"docmind/pkg/store"
)

type stubQueue struct {
	jobs map[string]queue.JobStatus
}

func (q *stubQueue) Enqueue(ctx context.Context, payload queue.Payload) (queue.JobStatus, error) {
	job := queue.JobStatus{ID: payload.DocumentID, DocumentID: payload.DocumentID, State: queue.StateWaiting}
	q.jobs[payload.DocumentID] = job
	return job, nil
}

func (q *stubQueue) GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error) {
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

func (q *stubQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, ok := q.jobs[jobID]
	if !ok || job.State != queue.StateWaiting {
		return false, nil
	}
	job.State = queue.StateCancelled
	q.jobs[jobID] = job
	return true, nil
}

func (q *stubQueue) Start(ctx context.Context, concurrency int, handler queue.Handler) {}

type stubEmbedder struct{}

func (stubEmbedder) EmbedText(ctx context.Context, text, taskType string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEmbedder) Model() string { return "stub" }

type stubCompleter struct{}

func (stubCompleter) Complete(ctx context.Context, messages []ai.Message, opts ai.CompletionOptions) (string, error) {
	return "stub answer", nil
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	jobs := &stubQueue{jobs: make(map[string]queue.JobStatus)}
	a := app.New(st, objects, jobs, nil, app.Config{})
	r := rag.New(st, stubEmbedder{}, stubCompleter{}, rag.Config{})
	return New(Config{App: a, RAG: r}), st
}

func doRequest(t *testing.T, s *Server, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	if userID != "" {
		req.Header.Set(identityHeader, userID)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func uploadDocument(t *testing.T, s *Server, userID, filename, body string) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(body)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := doRequest(t, s, req, userID)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return doc
}

func TestRequiresIdentityHeader(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := doRequest(t, s, req, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthNeedsNoIdentity(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := doRequest(t, s, req, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUploadListGetDelete(t *testing.T) {
	s, _ := newTestServer(t)
	doc := uploadDocument(t, s, "u1", "report.txt", "some document body text")
	id, _ := doc["id"].(string)
	if id == "" {
		t.Fatalf("no id in response: %v", doc)
	}
	if doc["status"].(map[string]any)["stage"] != "uploaded" {
		t.Errorf("stage = %v", doc["status"])
	}

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/documents", nil), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if list["count"].(float64) != 1 {
		t.Errorf("count = %v", list["count"])
	}

	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/documents/"+id, nil), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Another user sees 404.
	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/documents/"+id, nil), "u2")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cross-user get status = %d, want 404", rec.Code)
	}

	rec = doRequest(t, s, httptest.NewRequest(http.MethodDelete, "/documents/"+id, nil), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/documents/"+id, nil), "u1")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}

func TestProcessAndJobStatus(t *testing.T) {
	s, _ := newTestServer(t)
	doc := uploadDocument(t, s, "u1", "report.txt", "some document body text")
	id := doc["id"].(string)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodPost, "/documents/"+id+"/process", nil), "u1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("process status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("job status = %d", rec.Code)
	}
	var job map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &job)
	if job["state"] != "waiting" {
		t.Errorf("state = %v", job["state"])
	}

	rec = doRequest(t, s, httptest.NewRequest(http.MethodDelete, "/jobs/"+id, nil), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body = %s", rec.Code, rec.Body.String())
	}
	// Second cancel conflicts.
	rec = doRequest(t, s, httptest.NewRequest(http.MethodDelete, "/jobs/"+id, nil), "u1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want 409", rec.Code)
	}
}

func TestSearchValidation(t *testing.T) {
	s, _ := newTestServer(t)
	body := bytes.NewBufferString(`{"query":""}`)
	req := httptest.NewRequest(http.MethodPost, "/search", body)
	rec := doRequest(t, s, req, "u1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["code"] != "VALIDATION" {
		t.Errorf("code = %v", resp["code"])
	}
}

func TestSearchEmptyCorpus(t *testing.T) {
	s, _ := newTestServer(t)
	body := bytes.NewBufferString(`{"query":"anything"}`)
	req := httptest.NewRequest(http.MethodPost, "/search", body)
	rec := doRequest(t, s, req, "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["count"].(float64) != 0 {
		t.Errorf("count = %v", resp["count"])
	}
}

func TestChatOnUnprocessedDocumentConflicts(t *testing.T) {
	s, _ := newTestServer(t)
	doc := uploadDocument(t, s, "u1", "report.txt", "some document body text")
	id := doc["id"].(string)

	body := bytes.NewBufferString(`{"question":"what is this?"}`)
	req := httptest.NewRequest(http.MethodPost, "/documents/"+id+"/chat", body)
	rec := doRequest(t, s, req, "u1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body = %s", rec.Code, rec.Body.String())
	}
}
