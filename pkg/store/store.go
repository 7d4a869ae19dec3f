// Package store persists documents, chunk embeddings, and chat messages.
package store

import "docmind/pkg/domain"

// Store is the persistence interface for the document pipeline and chat.
type Store interface {
	// SaveDocument inserts or updates the document aggregate's core fields.
	SaveDocument(doc domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByOwner(ownerID string) ([]domain.Document, error)
	// DeleteDocument removes the document and its embeddings. The chat log
	// stays behind, orphaned but prunable with ClearMessages.
	DeleteDocument(id string) error

	// SetStatus writes the document's processing checkpoint. The checkpoint
	// is authoritative: all status columns are overwritten.
	SetStatus(id string, status domain.ProcessingStatus) error
	SetExtractedText(id string, text string, pageCount int) error
	SetSummary(id string, summary string) error
	SetEntities(id string, entities []domain.Entity) error
	SetClassification(id string, documentType string) error
	SetAnomaly(id string, score float64, details string) error

	// ReplaceEmbeddings atomically swaps the document's chunk embeddings.
	ReplaceEmbeddings(documentID string, embeddings []domain.Embedding) error
	// ListEmbeddingsByDocument returns embeddings ordered by chunk index.
	ListEmbeddingsByDocument(documentID string) ([]domain.Embedding, error)
	// ListEmbeddingsByOwner returns all embeddings across an owner's
	// documents, for cross-document search.
	ListEmbeddingsByOwner(ownerID string) ([]domain.Embedding, error)

	AppendMessage(msg domain.Message) error
	// ListMessages returns the limit most recent messages for a document in
	// chronological order.
	ListMessages(documentID string, limit int) ([]domain.Message, error)
	ClearMessages(documentID string) error
}
