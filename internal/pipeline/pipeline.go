// Package pipeline runs the per-document processing sequence: download,
// extract, clean, enrich, chunk, embed. Each stage writes a durable status
// checkpoint before it runs, so observers can poll progress and a crashed
// worker leaves an honest trail.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"docmind/pkg/ai"
	"docmind/pkg/domain"
	"docmind/pkg/enrich"
	"docmind/pkg/extract"
	"docmind/pkg/queue"
	"docmind/pkg/storage"
	"docmind/pkg/store"
	"docmind/pkg/textproc"
)

const (
	progressDownload  = 10
	progressExtract   = 25
	progressSummary   = 40
	progressEntities  = 55
	progressClassify  = 65
	progressAnomalies = 75
	progressEmbed     = 85
	progressDone      = 100
)

const (
	embedBatchSize   = 16
	embedConcurrency = 4
)

type Config struct {
	ChunkSize     int
	ChunkOverlap  int
	MinTextLength int
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.MinTextLength <= 0 {
		c.MinTextLength = 50
	}
	return c
}

// Pipeline processes one document end to end. It is the only actor that
// mutates a document's derived fields while its job is in flight.
type Pipeline struct {
	store     store.Store
	objects   storage.ObjectStore
	extractor *extract.Extractor
	enricher  *enrich.Enricher
	embedder  ai.Embedder
	cfg       Config
}

func New(st store.Store, objects storage.ObjectStore, extractor *extract.Extractor, enricher *enrich.Enricher, embedder ai.Embedder, cfg Config) *Pipeline {
	return &Pipeline{
		store:     st,
		objects:   objects,
		extractor: extractor,
		enricher:  enricher,
		embedder:  embedder,
		cfg:       cfg.withDefaults(),
	}
}

// Process runs the pipeline for the job's document. Any stage error is
// caught once here: the document is marked failed with the error message and
// the error is returned so the queue can apply its retry policy.
func (p *Pipeline) Process(ctx context.Context, payload queue.Payload) error {
	if err := p.run(ctx, payload); err != nil {
		slog.Error("document processing failed", "documentId", payload.DocumentID, "error", err)
		now := time.Now().UTC()
		p.checkpoint(payload.DocumentID, domain.ProcessingStatus{
			Stage:       domain.StageFailed,
			Progress:    p.lastProgress(payload.DocumentID),
			Error:       err.Error(),
			CompletedAt: &now,
		})
		return err
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, payload queue.Payload) error {
	doc, ok, err := p.store.GetDocument(payload.DocumentID)
	if err != nil {
		return domain.Wrap(domain.ErrKindInternal, "load document", err)
	}
	if !ok {
		return domain.Ef(domain.ErrKindNotFound, "document not found: %s", payload.DocumentID)
	}
	started := time.Now().UTC()
	progress := func(pct int, msg string) {
		p.checkpoint(doc.ID, domain.ProcessingStatus{
			Stage:     domain.StageProcessing,
			Progress:  pct,
			Message:   msg,
			StartedAt: &started,
		})
	}

	progress(progressDownload, "downloading file")
	data, err := p.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return domain.Wrap(domain.ErrKindInternal, "download object", err)
	}

	progress(progressExtract, "extracting text")
	extracted, err := p.extractor.Extract(ctx, data, doc.FileType)
	if err != nil {
		return err
	}

	// Cleaning and the minimum-length floor are checked inline under the
	// extract checkpoint; they carry no weight of their own.
	text := extracted.Text
	if extracted.Confidence > 0 {
		text = textproc.RemoveOCRNoise(text)
	}
	text = textproc.CleanText(text)
	if n := len([]rune(text)); n < p.cfg.MinTextLength {
		return domain.Ef(domain.ErrKindExtraction, "insufficient text extracted: %d characters", n)
	}
	if err := p.store.SetExtractedText(doc.ID, text, extracted.PageCount); err != nil {
		return domain.Wrap(domain.ErrKindInternal, "persist extracted text", err)
	}

	// Enrichment stages degrade individually; none of them can fail the run.
	progress(progressSummary, "generating summary")
	if err := p.store.SetSummary(doc.ID, p.enricher.Summarize(ctx, text)); err != nil {
		return domain.Wrap(domain.ErrKindInternal, "persist summary", err)
	}
	progress(progressEntities, "extracting entities")
	if err := p.store.SetEntities(doc.ID, p.enricher.ExtractEntities(ctx, text)); err != nil {
		return domain.Wrap(domain.ErrKindInternal, "persist entities", err)
	}
	progress(progressClassify, "classifying document")
	if err := p.store.SetClassification(doc.ID, p.enricher.Classify(ctx, text)); err != nil {
		return domain.Wrap(domain.ErrKindInternal, "persist classification", err)
	}
	progress(progressAnomalies, "detecting anomalies")
	anomaly := p.enricher.DetectAnomalies(ctx, text)
	if err := p.store.SetAnomaly(doc.ID, anomaly.Score, anomaly.Details); err != nil {
		return domain.Wrap(domain.ErrKindInternal, "persist anomaly result", err)
	}

	progress(progressEmbed, "generating embeddings")
	chunks := textproc.ChunkText(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	embeddings, err := p.embedChunks(ctx, doc.ID, chunks)
	if err != nil {
		return err
	}
	if err := p.store.ReplaceEmbeddings(doc.ID, embeddings); err != nil {
		return domain.Wrap(domain.ErrKindInternal, "persist embeddings", err)
	}

	completed := time.Now().UTC()
	p.checkpoint(doc.ID, domain.ProcessingStatus{
		Stage:       domain.StageCompleted,
		Progress:    progressDone,
		Message:     "processing complete",
		StartedAt:   &started,
		CompletedAt: &completed,
	})
	slog.Info("document processed",
		"documentId", doc.ID,
		"chunks", len(chunks),
		"duration", completed.Sub(started))
	return nil
}

// embedChunks embeds all chunks in order-preserving batches.
func (p *Pipeline) embedChunks(ctx context.Context, documentID string, chunks []string) ([]domain.Embedding, error) {
	embeddings := make([]domain.Embedding, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		g.Go(func() error {
			batch := chunks[start:end]
			vectors, err := p.embedBatch(gctx, batch)
			if err != nil {
				return domain.Wrap(domain.ErrKindEmbedding, "embed chunks", err)
			}
			for i, vec := range vectors {
				embeddings[start+i] = domain.Embedding{
					DocumentID: documentID,
					ChunkIndex: start + i,
					Vector:     vec,
					Model:      p.embedder.Model(),
					Text:       batch[i],
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if batcher, ok := p.embedder.(ai.BatchEmbedder); ok {
		return batcher.EmbedTexts(ctx, texts, "RETRIEVAL_DOCUMENT")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.embedder.EmbedText(ctx, text, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (p *Pipeline) checkpoint(documentID string, status domain.ProcessingStatus) {
	if err := p.store.SetStatus(documentID, status); err != nil {
		slog.Error("write status checkpoint", "documentId", documentID, "error", err)
	}
}

func (p *Pipeline) lastProgress(documentID string) int {
	doc, ok, err := p.store.GetDocument(documentID)
	if err != nil || !ok {
		return 0
	}
	return doc.Status.Progress
}
