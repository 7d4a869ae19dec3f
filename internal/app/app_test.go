package app

import (
	"context"
	"testing"

	"docmind/pkg/domain"
	"docmind/pkg/queue"
	"docmind/pkg/storage"
	"docmind/pkg/store"
)

type fakeJobQueue struct {
	jobs       map[string]queue.JobStatus
	lastPayload queue.Payload
}

func newFakeJobQueue() *fakeJobQueue {
	return &fakeJobQueue{jobs: make(map[string]queue.JobStatus)}
}

func (q *fakeJobQueue) Enqueue(ctx context.Context, payload queue.Payload) (queue.JobStatus, error) {
	q.lastPayload = payload
	if existing, ok := q.jobs[payload.DocumentID]; ok && (existing.State == queue.StateWaiting || existing.State == queue.StateActive) {
		return existing, nil
	}
	job := queue.JobStatus{ID: payload.DocumentID, DocumentID: payload.DocumentID, State: queue.StateWaiting}
	q.jobs[payload.DocumentID] = job
	return job, nil
}

func (q *fakeJobQueue) GetJob(ctx context.Context, jobID string) (queue.JobStatus, bool, error) {
	job, ok := q.jobs[jobID]
	return job, ok, nil
}

func (q *fakeJobQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, ok := q.jobs[jobID]
	if !ok || job.State != queue.StateWaiting {
		return false, nil
	}
	job.State = queue.StateCancelled
	q.jobs[jobID] = job
	return true, nil
}

func (q *fakeJobQueue) Start(ctx context.Context, concurrency int, handler queue.Handler) {}

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *storage.MemoryStore, *fakeJobQueue) {
	t.Helper()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	jobs := newFakeJobQueue()
	return New(st, objects, jobs, nil, Config{}), st, objects, jobs
}

func TestCreateDocument(t *testing.T) {
	a, _, objects, _ := newTestApp(t)
	doc, err := a.CreateDocument(context.Background(), "u1", "report.pdf", ".PDF", []byte("%PDF-1.4 data"))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if doc.Status.Stage != domain.StageUploaded {
		t.Errorf("stage = %v, want uploaded", doc.Status.Stage)
	}
	if doc.FileType != "pdf" {
		t.Errorf("fileType = %q", doc.FileType)
	}
	if doc.OriginalName != "report.pdf" {
		t.Errorf("originalName = %q", doc.OriginalName)
	}
	if _, err := objects.Get(context.Background(), doc.StorageKey); err != nil {
		t.Errorf("blob not stored: %v", err)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	ctx := context.Background()

	if _, err := a.CreateDocument(ctx, "u1", "f.xlsx", "xlsx", []byte("data")); domain.KindOf(err) != domain.ErrKindUnsupportedType {
		t.Errorf("xlsx: kind = %v", domain.KindOf(err))
	}
	if _, err := a.CreateDocument(ctx, "u1", "f.pdf", "pdf", nil); domain.KindOf(err) != domain.ErrKindValidation {
		t.Errorf("empty file: kind = %v", domain.KindOf(err))
	}
	if _, err := a.CreateDocument(ctx, "", "f.pdf", "pdf", []byte("data")); domain.KindOf(err) != domain.ErrKindValidation {
		t.Errorf("no owner: kind = %v", domain.KindOf(err))
	}
}

func TestOwnershipReadsAsNotFound(t *testing.T) {
	a, _, _, _ := newTestApp(t)
	ctx := context.Background()
	doc, err := a.CreateDocument(ctx, "u1", "f.txt", "txt", []byte("hello"))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := a.GetDocument(doc.ID, "u2"); domain.KindOf(err) != domain.ErrKindNotFound {
		t.Errorf("other owner: kind = %v", domain.KindOf(err))
	}
	if _, err := a.GetDocument(doc.ID, "u1"); err != nil {
		t.Errorf("owner: %v", err)
	}
}

func TestEnqueueProcessing(t *testing.T) {
	a, _, _, jobs := newTestApp(t)
	ctx := context.Background()
	doc, err := a.CreateDocument(ctx, "u1", "f.txt", "txt", []byte("hello"))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	job, err := a.EnqueueProcessing(ctx, doc.ID, "u1")
	if err != nil {
		t.Fatalf("EnqueueProcessing: %v", err)
	}
	if job.State != queue.StateWaiting {
		t.Errorf("state = %q", job.State)
	}
	if jobs.lastPayload.StorageKey != doc.StorageKey || jobs.lastPayload.FileType != "txt" {
		t.Errorf("payload = %+v", jobs.lastPayload)
	}
}

func TestEnqueueProcessingResetsFailedDocument(t *testing.T) {
	a, st, _, _ := newTestApp(t)
	ctx := context.Background()
	doc, err := a.CreateDocument(ctx, "u1", "f.txt", "txt", []byte("hello"))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	_ = st.SetStatus(doc.ID, domain.ProcessingStatus{Stage: domain.StageFailed, Progress: 40, Error: "boom"})

	if _, err := a.EnqueueProcessing(ctx, doc.ID, "u1"); err != nil {
		t.Fatalf("EnqueueProcessing: %v", err)
	}
	got, _, _ := st.GetDocument(doc.ID)
	if got.Status.Stage != domain.StageUploaded || got.Status.Error != "" {
		t.Errorf("status after reset = %+v", got.Status)
	}
}

func TestCancelJob(t *testing.T) {
	a, _, _, jobs := newTestApp(t)
	ctx := context.Background()
	doc, err := a.CreateDocument(ctx, "u1", "f.txt", "txt", []byte("hello"))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := a.EnqueueProcessing(ctx, doc.ID, "u1"); err != nil {
		t.Fatalf("EnqueueProcessing: %v", err)
	}
	if err := a.CancelJob(ctx, doc.ID, "u1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if job := jobs.jobs[doc.ID]; job.State != queue.StateCancelled {
		t.Errorf("job state = %q", job.State)
	}
	// A second cancel hits a non-waiting job.
	if err := a.CancelJob(ctx, doc.ID, "u1"); domain.KindOf(err) != domain.ErrKindConflict {
		t.Errorf("second cancel: kind = %v", domain.KindOf(err))
	}
}

func TestDeleteDocumentRemovesBlob(t *testing.T) {
	a, st, objects, _ := newTestApp(t)
	ctx := context.Background()
	doc, err := a.CreateDocument(ctx, "u1", "f.txt", "txt", []byte("hello"))
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := a.DeleteDocument(ctx, doc.ID, "u1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := objects.Get(ctx, doc.StorageKey); err == nil {
		t.Error("blob survived deletion")
	}
	if _, ok, _ := st.GetDocument(doc.ID); ok {
		t.Error("record survived deletion")
	}
}
