// Package app coordinates the document lifecycle: registration, processing
// job control, and deletion. It owns the ownership checks; the HTTP layer
// only translates requests and errors.
package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docmind/internal/ratelimit"
	"docmind/internal/util"
	"docmind/pkg/domain"
	"docmind/pkg/queue"
	"docmind/pkg/storage"
	"docmind/pkg/store"
)

const defaultMaxUploadBytes = 50 << 20

var supportedFileTypes = map[string]bool{
	"pdf": true, "docx": true, "txt": true, "md": true,
	"html": true, "htm": true, "png": true, "jpg": true, "jpeg": true,
}

// App wires storage, persistence, and the job queue behind the document
// operations.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	jobs           queue.JobQueue
	limiter        *ratelimit.FixedWindowLimiter
	maxUploadBytes int64
}

type Config struct {
	MaxUploadBytes int64
}

func New(st store.Store, objects storage.ObjectStore, jobs queue.JobQueue, limiter *ratelimit.FixedWindowLimiter, cfg Config) *App {
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &App{
		store:          st,
		objects:        objects,
		jobs:           jobs,
		limiter:        limiter,
		maxUploadBytes: maxUpload,
	}
}

// CreateDocument stores the uploaded bytes and registers the document in the
// uploaded stage. Processing is a separate, explicit step.
func (a *App) CreateDocument(ctx context.Context, ownerID, originalName, fileType string, data []byte) (domain.Document, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return domain.Document{}, domain.E(domain.ErrKindValidation, "owner is required")
	}
	originalName = strings.TrimSpace(originalName)
	if originalName == "" {
		return domain.Document{}, domain.E(domain.ErrKindValidation, "file name is required")
	}
	fileType = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(fileType, ".")))
	if !supportedFileTypes[fileType] {
		return domain.Document{}, domain.Ef(domain.ErrKindUnsupportedType, "unsupported file type: %q", fileType)
	}
	if len(data) == 0 {
		return domain.Document{}, domain.E(domain.ErrKindValidation, "file is empty")
	}
	if int64(len(data)) > a.maxUploadBytes {
		return domain.Document{}, domain.Ef(domain.ErrKindValidation, "file exceeds size limit of %d bytes", a.maxUploadBytes)
	}

	id := util.NewID()
	key := fmt.Sprintf("documents/%s/%s.%s", ownerID, id, fileType)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentTypeFor(fileType)); err != nil {
		return domain.Document{}, domain.Wrap(domain.ErrKindInternal, "store file", err)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:           id,
		OwnerID:      ownerID,
		Filename:     id + "." + fileType,
		OriginalName: originalName,
		FileType:     fileType,
		SizeBytes:    int64(len(data)),
		StorageKey:   key,
		Status:       domain.ProcessingStatus{Stage: domain.StageUploaded},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveDocument(doc); err != nil {
		_ = a.objects.Delete(ctx, key)
		return domain.Document{}, domain.Wrap(domain.ErrKindInternal, "save document", err)
	}
	slog.Info("document created", "documentId", id, "ownerId", ownerID, "fileType", fileType, "size", len(data))
	return doc, nil
}

// GetDocument returns an owned document.
func (a *App) GetDocument(id, ownerID string) (domain.Document, error) {
	return a.ownedDocument(id, ownerID)
}

// ListDocuments returns all of the owner's documents.
func (a *App) ListDocuments(ownerID string) ([]domain.Document, error) {
	docs, err := a.store.ListDocumentsByOwner(ownerID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindInternal, "list documents", err)
	}
	return docs, nil
}

// DeleteDocument removes the blob and the document record. The chat log is
// left behind; callers can prune it separately.
func (a *App) DeleteDocument(ctx context.Context, id, ownerID string) error {
	doc, err := a.ownedDocument(id, ownerID)
	if err != nil {
		return err
	}
	if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
		slog.Warn("delete blob failed, removing record anyway", "documentId", id, "error", err)
	}
	if err := a.store.DeleteDocument(id); err != nil {
		return domain.Wrap(domain.ErrKindInternal, "delete document", err)
	}
	slog.Info("document deleted", "documentId", id, "ownerId", ownerID)
	return nil
}

// EnqueueProcessing schedules the pipeline for a document. A failed document
// is reset to uploaded first, making resubmission the recovery path. Job
// starts are rate limited per owner.
func (a *App) EnqueueProcessing(ctx context.Context, id, ownerID string) (queue.JobStatus, error) {
	doc, err := a.ownedDocument(id, ownerID)
	if err != nil {
		return queue.JobStatus{}, err
	}
	// Re-enqueue while processing is idempotent: the queue returns the
	// in-flight job. A failed document is reset for a fresh run.
	if doc.Status.Stage == domain.StageFailed {
		if err := a.store.SetStatus(id, domain.ProcessingStatus{Stage: domain.StageUploaded}); err != nil {
			return queue.JobStatus{}, domain.Wrap(domain.ErrKindInternal, "reset document status", err)
		}
	}
	if a.limiter != nil && !a.limiter.Allow(ownerID) {
		return queue.JobStatus{}, domain.E(domain.ErrKindRateLimited, "too many processing requests, try again later")
	}
	job, err := a.jobs.Enqueue(ctx, queue.Payload{
		DocumentID: id,
		UserID:     ownerID,
		StorageKey: doc.StorageKey,
		FileType:   doc.FileType,
	})
	if err != nil {
		return queue.JobStatus{}, domain.Wrap(domain.ErrKindQueue, "enqueue processing job", err)
	}
	slog.Info("processing enqueued", "documentId", id, "jobId", job.ID, "state", job.State)
	return job, nil
}

// GetJobStatus returns the processing job for an owned document. Job IDs
// equal document IDs.
func (a *App) GetJobStatus(ctx context.Context, jobID, ownerID string) (queue.JobStatus, error) {
	if _, err := a.ownedDocument(jobID, ownerID); err != nil {
		return queue.JobStatus{}, err
	}
	job, ok, err := a.jobs.GetJob(ctx, jobID)
	if err != nil {
		return queue.JobStatus{}, domain.Wrap(domain.ErrKindQueue, "get job", err)
	}
	if !ok {
		return queue.JobStatus{}, domain.Ef(domain.ErrKindNotFound, "job not found: %s", jobID)
	}
	return job, nil
}

// CancelJob cancels a waiting job. Active jobs cannot be cancelled; there is
// no cooperative cancellation point inside a running stage.
func (a *App) CancelJob(ctx context.Context, jobID, ownerID string) error {
	if _, err := a.ownedDocument(jobID, ownerID); err != nil {
		return err
	}
	cancelled, err := a.jobs.Cancel(ctx, jobID)
	if err != nil {
		return domain.Wrap(domain.ErrKindQueue, "cancel job", err)
	}
	if !cancelled {
		return domain.E(domain.ErrKindConflict, "job is not waiting and cannot be cancelled")
	}
	slog.Info("job cancelled", "jobId", jobID)
	return nil
}

func (a *App) ownedDocument(id, ownerID string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(strings.TrimSpace(id))
	if err != nil {
		return domain.Document{}, domain.Wrap(domain.ErrKindInternal, "load document", err)
	}
	// Ownership failures read as not-found so IDs cannot be probed.
	if !ok || doc.OwnerID != strings.TrimSpace(ownerID) {
		return domain.Document{}, domain.Ef(domain.ErrKindNotFound, "document not found: %s", id)
	}
	return doc, nil
}

func contentTypeFor(fileType string) string {
	switch fileType {
	case "pdf":
		return "application/pdf"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "html", "htm":
		return "text/html"
	case "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}
