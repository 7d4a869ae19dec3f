package store

import (
	"sort"
	"sync"
	"time"

	"docmind/pkg/domain"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	documents  map[string]domain.Document
	embeddings map[string][]domain.Embedding
	messages   map[string][]domain.Message
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:  make(map[string]domain.Document),
		embeddings: make(map[string][]domain.Embedding),
		messages:   make(map[string][]domain.Message),
	}
}

func (s *MemoryStore) SaveDocument(doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.documents[doc.ID]; ok {
		// Core fields and checkpoint overwrite; derived fields survive.
		existing.OwnerID = doc.OwnerID
		existing.Filename = doc.Filename
		existing.OriginalName = doc.OriginalName
		existing.FileType = doc.FileType
		existing.SizeBytes = doc.SizeBytes
		existing.StorageKey = doc.StorageKey
		existing.Status = doc.Status
		existing.UpdatedAt = doc.UpdatedAt
		s.documents[doc.ID] = existing
		return nil
	}
	s.documents[doc.ID] = doc
	return nil
}

func (s *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	return doc, ok, nil
}

func (s *MemoryStore) ListDocumentsByOwner(ownerID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Document
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			res = append(res, doc)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// DeleteDocument removes the document and its embeddings. The chat log is
// left orphaned, matching the durable store.
func (s *MemoryStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	delete(s.embeddings, id)
	return nil
}

func (s *MemoryStore) SetStatus(id string, status domain.ProcessingStatus) error {
	return s.mutate(id, func(doc *domain.Document) {
		doc.Status = status
	})
}

func (s *MemoryStore) SetExtractedText(id string, text string, pageCount int) error {
	return s.mutate(id, func(doc *domain.Document) {
		doc.ExtractedText = text
		doc.PageCount = pageCount
	})
}

func (s *MemoryStore) SetSummary(id string, summary string) error {
	return s.mutate(id, func(doc *domain.Document) {
		doc.Summary = summary
	})
}

func (s *MemoryStore) SetEntities(id string, entities []domain.Entity) error {
	return s.mutate(id, func(doc *domain.Document) {
		doc.Entities = entities
	})
}

func (s *MemoryStore) SetClassification(id string, documentType string) error {
	return s.mutate(id, func(doc *domain.Document) {
		doc.DocumentType = documentType
	})
}

func (s *MemoryStore) SetAnomaly(id string, score float64, details string) error {
	return s.mutate(id, func(doc *domain.Document) {
		doc.AnomalyScore = score
		doc.AnomalyDetails = details
	})
}

func (s *MemoryStore) mutate(id string, fn func(*domain.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil
	}
	fn(&doc)
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

func (s *MemoryStore) ReplaceEmbeddings(documentID string, embeddings []domain.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]domain.Embedding, len(embeddings))
	copy(copied, embeddings)
	sort.Slice(copied, func(i, j int) bool { return copied[i].ChunkIndex < copied[j].ChunkIndex })
	s.embeddings[documentID] = copied
	return nil
}

func (s *MemoryStore) ListEmbeddingsByDocument(documentID string) ([]domain.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]domain.Embedding, len(s.embeddings[documentID]))
	copy(res, s.embeddings[documentID])
	return res, nil
}

func (s *MemoryStore) ListEmbeddingsByOwner(ownerID string) ([]domain.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []domain.Embedding
	for docID, embs := range s.embeddings {
		doc, ok := s.documents[docID]
		if !ok || doc.OwnerID != ownerID {
			continue
		}
		res = append(res, embs...)
	}
	return res, nil
}

func (s *MemoryStore) AppendMessage(msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.DocumentID] = append(s.messages[msg.DocumentID], msg)
	return nil
}

func (s *MemoryStore) ListMessages(documentID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	all := s.messages[documentID]
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	res := make([]domain.Message, len(all)-start)
	copy(res, all[start:])
	return res, nil
}

func (s *MemoryStore) ClearMessages(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, documentID)
	return nil
}
