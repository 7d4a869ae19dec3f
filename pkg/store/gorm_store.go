package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docmind/pkg/domain"
)

const migrateLockID int64 = 48214821

const defaultEmbeddingDim = 768

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim := opts.EmbeddingDim
	if embeddingDim <= 0 {
		embeddingDim = defaultEmbeddingDim
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&DocumentModel{}, &EmbeddingModel{}, &ChatMessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'embedding_models' AND column_name = 'vector'
			) THEN
				ALTER TABLE embedding_models ALTER COLUMN vector TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter embedding vector type: %w", err)
		}
		// Chat messages carry no FK on purpose: deleting a document leaves
		// its chat log orphaned but prunable through ClearMessages.
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM embedding_models e
				WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = e.document_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'embedding_models'
					AND constraint_name = 'embedding_models_document_id_fkey'
				) THEN
					ALTER TABLE embedding_models
					ADD CONSTRAINT embedding_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure document foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveDocument stores or updates a document's core fields and checkpoint.
func (s *GormStore) SaveDocument(doc domain.Document) error {
	model := documentToModel(doc)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id", "filename", "original_name", "file_type", "size_bytes",
			"storage_key", "stage", "progress", "status_message", "error_message",
			"started_at", "completed_at", "updated_at",
		}),
	}).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByOwner returns the owner's documents ordered by created_at.
func (s *GormStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// DeleteDocument removes the document and its embeddings. Chat messages are
// intentionally left behind.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&EmbeddingModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// SetStatus overwrites the document's processing checkpoint.
func (s *GormStore) SetStatus(id string, status domain.ProcessingStatus) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stage":          string(status.Stage),
			"progress":       status.Progress,
			"status_message": status.Message,
			"error_message":  status.Error,
			"started_at":     status.StartedAt,
			"completed_at":   status.CompletedAt,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// SetExtractedText records the extraction result.
func (s *GormStore) SetExtractedText(id string, text string, pageCount int) error {
	return s.updateDocument(id, map[string]any{
		"extracted_text": text,
		"page_count":     pageCount,
	})
}

// SetSummary records the generated summary.
func (s *GormStore) SetSummary(id string, summary string) error {
	return s.updateDocument(id, map[string]any{"summary": summary})
}

// SetEntities records extracted entities as jsonb.
func (s *GormStore) SetEntities(id string, entities []domain.Entity) error {
	raw, err := json.Marshal(entities)
	if err != nil {
		return err
	}
	return s.updateDocument(id, map[string]any{"entities": raw})
}

// SetClassification records the document type label.
func (s *GormStore) SetClassification(id string, documentType string) error {
	return s.updateDocument(id, map[string]any{"document_type": documentType})
}

// SetAnomaly records the anomaly assessment.
func (s *GormStore) SetAnomaly(id string, score float64, details string) error {
	return s.updateDocument(id, map[string]any{
		"anomaly_score":   score,
		"anomaly_details": details,
	})
}

func (s *GormStore) updateDocument(id string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	return s.db.Model(&DocumentModel{}).Where("id = ?", id).Updates(updates).Error
}

// ReplaceEmbeddings replaces all embeddings for a document.
func (s *GormStore) ReplaceEmbeddings(documentID string, embeddings []domain.Embedding) error {
	for _, emb := range embeddings {
		if err := s.validateEmbeddingDim(emb.Vector); err != nil {
			return err
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&EmbeddingModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(embeddings) == 0 {
			return nil
		}
		now := time.Now().UTC()
		models := make([]EmbeddingModel, 0, len(embeddings))
		for _, emb := range embeddings {
			models = append(models, EmbeddingModel{
				DocumentID: documentID,
				ChunkIndex: emb.ChunkIndex,
				Vector:     pgvector.NewVector(emb.Vector),
				Model:      emb.Model,
				Text:       emb.Text,
				CreatedAt:  now,
			})
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// ListEmbeddingsByDocument returns embeddings in chunk order.
func (s *GormStore) ListEmbeddingsByDocument(documentID string) ([]domain.Embedding, error) {
	var models []EmbeddingModel
	if err := s.db.Where("document_id = ?", documentID).Order("chunk_index ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return embeddingsFromModels(models), nil
}

// ListEmbeddingsByOwner returns every embedding across the owner's documents.
func (s *GormStore) ListEmbeddingsByOwner(ownerID string) ([]domain.Embedding, error) {
	var models []EmbeddingModel
	if err := s.db.
		Joins("JOIN document_models ON document_models.id = embedding_models.document_id").
		Where("document_models.owner_id = ?", ownerID).
		Order("embedding_models.document_id ASC, embedding_models.chunk_index ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return embeddingsFromModels(models), nil
}

func (s *GormStore) validateEmbeddingDim(vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(vector) != s.embeddingDim {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vector), s.embeddingDim)
	}
	return nil
}

// AppendMessage records a chat message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model, err := messageToModel(msg)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListMessages returns recent messages for a document (newest first, then
// reversed to chronological).
func (s *GormStore) ListMessages(documentID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	var models []ChatMessageModel
	if err := s.db.Where("document_id = ?", documentID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// ClearMessages deletes the document's chat log.
func (s *GormStore) ClearMessages(documentID string) error {
	return s.db.Delete(&ChatMessageModel{}, "document_id = ?", documentID).Error
}

func documentToModel(doc domain.Document) DocumentModel {
	rawEntities, _ := json.Marshal(doc.Entities)
	return DocumentModel{
		ID:             doc.ID,
		OwnerID:        doc.OwnerID,
		Filename:       doc.Filename,
		OriginalName:   doc.OriginalName,
		FileType:       doc.FileType,
		SizeBytes:      doc.SizeBytes,
		StorageKey:     doc.StorageKey,
		Stage:          string(doc.Status.Stage),
		Progress:       doc.Status.Progress,
		StatusMessage:  doc.Status.Message,
		ErrorMessage:   doc.Status.Error,
		StartedAt:      doc.Status.StartedAt,
		CompletedAt:    doc.Status.CompletedAt,
		ExtractedText:  doc.ExtractedText,
		Summary:        doc.Summary,
		DocumentType:   doc.DocumentType,
		Entities:       rawEntities,
		PageCount:      doc.PageCount,
		AnomalyScore:   doc.AnomalyScore,
		AnomalyDetails: doc.AnomalyDetails,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	var entities []domain.Entity
	if len(m.Entities) > 0 {
		_ = json.Unmarshal(m.Entities, &entities)
	}
	return domain.Document{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		Filename:     m.Filename,
		OriginalName: m.OriginalName,
		FileType:     m.FileType,
		SizeBytes:    m.SizeBytes,
		StorageKey:   m.StorageKey,
		Status: domain.ProcessingStatus{
			Stage:       domain.Stage(m.Stage),
			Progress:    m.Progress,
			Message:     m.StatusMessage,
			Error:       m.ErrorMessage,
			StartedAt:   m.StartedAt,
			CompletedAt: m.CompletedAt,
		},
		ExtractedText:  m.ExtractedText,
		Summary:        m.Summary,
		DocumentType:   m.DocumentType,
		Entities:       entities,
		PageCount:      m.PageCount,
		AnomalyScore:   m.AnomalyScore,
		AnomalyDetails: m.AnomalyDetails,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func embeddingsFromModels(models []EmbeddingModel) []domain.Embedding {
	res := make([]domain.Embedding, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Embedding{
			DocumentID: m.DocumentID,
			ChunkIndex: m.ChunkIndex,
			Vector:     m.Vector.Slice(),
			Model:      m.Model,
			Text:       m.Text,
		})
	}
	return res
}

func messageToModel(msg domain.Message) (ChatMessageModel, error) {
	rawContext, err := json.Marshal(msg.Context)
	if err != nil {
		return ChatMessageModel{}, err
	}
	return ChatMessageModel{
		ID:         msg.ID,
		DocumentID: msg.DocumentID,
		UserID:     msg.UserID,
		Role:       msg.Role,
		Content:    msg.Content,
		Context:    rawContext,
		CreatedAt:  msg.CreatedAt,
	}, nil
}

func messageFromModel(m ChatMessageModel) domain.Message {
	var chunks []string
	if len(m.Context) > 0 {
		_ = json.Unmarshal(m.Context, &chunks)
	}
	return domain.Message{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		UserID:     m.UserID,
		Role:       m.Role,
		Content:    m.Content,
		Context:    chunks,
		CreatedAt:  m.CreatedAt,
	}
}
