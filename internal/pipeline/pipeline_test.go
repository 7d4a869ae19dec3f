package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"docmind/pkg/ai"
	"docmind/pkg/domain"
	"docmind/pkg/enrich"
	"docmind/pkg/extract"
	"docmind/pkg/queue"
	"docmind/pkg/storage"
	"docmind/pkg/store"
)

type fakeEmbedder struct {
	fail bool
}

func (f fakeEmbedder) EmbedText(ctx context.Context, text, taskType string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding service down")
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f fakeEmbedder) Model() string { return "fake-embed" }

type fakeCompleter struct {
	fail bool
}

func (f fakeCompleter) Complete(ctx context.Context, messages []ai.Message, opts ai.CompletionOptions) (string, error) {
	if f.fail {
		return "", errors.New("completion service down")
	}
	system := messages[0].Content
	switch {
	case strings.Contains(system, "summarize"):
		return "A test summary.", nil
	case strings.Contains(system, "entities"):
		return `{"entities":[{"type":"person","value":"Ada","confidence":0.9}]}`, nil
	case strings.Contains(system, "Classify"):
		return "report", nil
	default:
		return `{"score":12,"details":"minor date mismatch"}`, nil
	}
}

func newTestPipeline(t *testing.T, completerFails, embedderFails bool) (*Pipeline, *store.MemoryStore, *storage.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	p := New(
		st,
		objects,
		extract.New(nil, ""),
		enrich.New(fakeCompleter{fail: completerFails}),
		fakeEmbedder{fail: embedderFails},
		Config{ChunkSize: 80, ChunkOverlap: 20, MinTextLength: 50},
	)
	return p, st, objects
}

func seedDocument(t *testing.T, st *store.MemoryStore, objects *storage.MemoryStore, id, body string) queue.Payload {
	t.Helper()
	ctx := context.Background()
	key := "docs/" + id
	if err := objects.Put(ctx, key, bytes.NewReader([]byte(body)), int64(len(body)), "text/plain"); err != nil {
		t.Fatalf("put object: %v", err)
	}
	doc := domain.Document{
		ID:         id,
		OwnerID:    "u1",
		Filename:   id + ".txt",
		FileType:   "txt",
		SizeBytes:  int64(len(body)),
		StorageKey: key,
		Status:     domain.ProcessingStatus{Stage: domain.StageUploaded},
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := st.SaveDocument(doc); err != nil {
		t.Fatalf("save document: %v", err)
	}
	return queue.Payload{DocumentID: id, UserID: "u1", StorageKey: key, FileType: "txt"}
}

const sampleBody = "The quarterly report covers revenue growth across all regions. " +
	"Sales increased by twelve percent compared to the previous period. " +
	"Operating costs remained stable throughout the quarter. " +
	"The board approved the expansion plan for next year."

func TestProcessCompletesDocument(t *testing.T) {
	p, st, objects := newTestPipeline(t, false, false)
	payload := seedDocument(t, st, objects, "d1", sampleBody)

	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("Process: %v", err)
	}

	doc, _, _ := st.GetDocument("d1")
	if doc.Status.Stage != domain.StageCompleted || doc.Status.Progress != 100 {
		t.Fatalf("status = %+v", doc.Status)
	}
	if doc.Status.StartedAt == nil || doc.Status.CompletedAt == nil {
		t.Error("timestamps not set")
	}
	if doc.ExtractedText == "" {
		t.Error("extracted text not persisted")
	}
	if doc.Summary != "A test summary." {
		t.Errorf("summary = %q", doc.Summary)
	}
	if len(doc.Entities) != 1 || doc.Entities[0].Value != "Ada" {
		t.Errorf("entities = %+v", doc.Entities)
	}
	if doc.DocumentType != "report" {
		t.Errorf("documentType = %q", doc.DocumentType)
	}
	if doc.AnomalyScore != 12 {
		t.Errorf("anomalyScore = %v", doc.AnomalyScore)
	}

	embs, _ := st.ListEmbeddingsByDocument("d1")
	if len(embs) == 0 {
		t.Fatal("no embeddings persisted")
	}
	for i, emb := range embs {
		if emb.ChunkIndex != i {
			t.Errorf("chunk index %d at position %d", emb.ChunkIndex, i)
		}
		if emb.Model != "fake-embed" {
			t.Errorf("model = %q", emb.Model)
		}
	}
}

type checkpointRecorder struct {
	*store.MemoryStore
	statuses []domain.ProcessingStatus
}

func (r *checkpointRecorder) SetStatus(id string, status domain.ProcessingStatus) error {
	r.statuses = append(r.statuses, status)
	return r.MemoryStore.SetStatus(id, status)
}

func TestProcessCheckpointWeights(t *testing.T) {
	rec := &checkpointRecorder{MemoryStore: store.NewMemoryStore()}
	objects := storage.NewMemoryStore()
	p := New(
		rec,
		objects,
		extract.New(nil, ""),
		enrich.New(fakeCompleter{}),
		fakeEmbedder{},
		Config{ChunkSize: 80, ChunkOverlap: 20, MinTextLength: 50},
	)
	payload := seedDocument(t, rec.MemoryStore, objects, "d1", sampleBody)

	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Cleaning happens inline under the extract checkpoint and gets no
	// weight of its own.
	want := []int{10, 25, 40, 55, 65, 75, 85, 100}
	if len(rec.statuses) != len(want) {
		t.Fatalf("checkpoints = %+v, want %d entries", rec.statuses, len(want))
	}
	for i, status := range rec.statuses {
		if status.Progress != want[i] {
			t.Errorf("checkpoint %d progress = %d, want %d (%s)", i, status.Progress, want[i], status.Message)
		}
	}
	last := rec.statuses[len(rec.statuses)-1]
	if last.Stage != domain.StageCompleted {
		t.Errorf("final stage = %v, want completed", last.Stage)
	}
}

func TestProcessFailsOnInsufficientText(t *testing.T) {
	p, st, objects := newTestPipeline(t, false, false)
	payload := seedDocument(t, st, objects, "d1", "too short")

	err := p.Process(context.Background(), payload)
	if err == nil {
		t.Fatal("expected error for insufficient text")
	}
	if !strings.Contains(err.Error(), "insufficient text") {
		t.Errorf("error = %v", err)
	}
	doc, _, _ := st.GetDocument("d1")
	if doc.Status.Stage != domain.StageFailed {
		t.Fatalf("stage = %v, want failed", doc.Status.Stage)
	}
	if doc.Status.Error == "" {
		t.Error("failure message not recorded")
	}
}

func TestProcessDegradesEnrichmentButCompletes(t *testing.T) {
	p, st, objects := newTestPipeline(t, true, false)
	payload := seedDocument(t, st, objects, "d1", sampleBody)

	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc, _, _ := st.GetDocument("d1")
	if doc.Status.Stage != domain.StageCompleted {
		t.Fatalf("stage = %v, want completed", doc.Status.Stage)
	}
	if doc.Summary == "" {
		t.Error("expected excerpt fallback summary")
	}
	if doc.DocumentType != "other" {
		t.Errorf("documentType = %q, want other", doc.DocumentType)
	}
	if !strings.Contains(doc.AnomalyDetails, "unavailable") {
		t.Errorf("anomalyDetails = %q", doc.AnomalyDetails)
	}
}

func TestProcessEmbeddingFailureIsRetryable(t *testing.T) {
	p, st, objects := newTestPipeline(t, false, true)
	payload := seedDocument(t, st, objects, "d1", sampleBody)

	err := p.Process(context.Background(), payload)
	if err == nil {
		t.Fatal("expected embedding failure to propagate")
	}
	if domain.KindOf(err) != domain.ErrKindEmbedding {
		t.Errorf("kind = %v, want embedding", domain.KindOf(err))
	}
	doc, _, _ := st.GetDocument("d1")
	if doc.Status.Stage != domain.StageFailed {
		t.Fatalf("stage = %v, want failed", doc.Status.Stage)
	}
	// Enrichment results written before the failure survive.
	if doc.Summary == "" {
		t.Error("summary should survive a later-stage failure")
	}
}

func TestReprocessingReplacesEmbeddingsWholesale(t *testing.T) {
	p, st, objects := newTestPipeline(t, false, false)
	payload := seedDocument(t, st, objects, "d1", sampleBody)

	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := st.ListEmbeddingsByDocument("d1")

	shorter := strings.Repeat("Short replacement body with enough characters to pass. ", 2)
	_ = objects.Put(context.Background(), payload.StorageKey, bytes.NewReader([]byte(shorter)), int64(len(shorter)), "text/plain")
	if err := p.Process(context.Background(), payload); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, _ := st.ListEmbeddingsByDocument("d1")
	if len(second) == 0 || len(second) >= len(first) {
		t.Fatalf("expected fewer embeddings after reprocessing shorter body: first=%d second=%d", len(first), len(second))
	}
	for i, emb := range second {
		if emb.ChunkIndex != i {
			t.Errorf("chunk indexes not contiguous after replace: %+v", second)
		}
	}
}
