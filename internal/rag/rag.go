// Package rag implements the read paths over persisted embeddings: semantic
// search across a user's corpus, grounded chat within one document, and
// similar-document lookup.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"docmind/internal/util"
	"docmind/pkg/ai"
	"docmind/pkg/domain"
	"docmind/pkg/store"
	"docmind/pkg/vector"
)

const (
	defaultSearchLimit  = 10
	snippetLength       = 200
	chatSystemPrompt    = "You are a helpful assistant answering questions about a document. Use only the provided document context to answer. If the answer cannot be found in the context, say so clearly instead of guessing."
	chatTemperature     = 0.7
	chatMaxTokens       = 500
	defaultTopK         = 3
	defaultHistoryLimit = 5
)

// Service answers queries against processed documents.
type Service struct {
	store        store.Store
	embedder     ai.Embedder
	completer    ai.Completer
	topK         int
	historyLimit int
}

type Config struct {
	TopK         int
	HistoryLimit int
}

func New(st store.Store, embedder ai.Embedder, completer ai.Completer, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Service{
		store:        st,
		embedder:     embedder,
		completer:    completer,
		topK:         cfg.TopK,
		historyLimit: cfg.HistoryLimit,
	}
}

// scoredChunk pairs a chunk with its similarity to a query.
type scoredChunk struct {
	embedding domain.Embedding
	score     float64
}

// SemanticSearch ranks the owner's documents against the query. Each
// document appears at most once, represented by its best-scoring chunk.
func (s *Service) SemanticSearch(ctx context.Context, ownerID, query string, limit int) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.E(domain.ErrKindValidation, "query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	queryVec, err := s.embedder.EmbedText(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindEmbedding, "embed query", err)
	}
	embeddings, err := s.store.ListEmbeddingsByOwner(ownerID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindInternal, "list embeddings", err)
	}

	best := make(map[string]scoredChunk)
	for _, emb := range embeddings {
		score, err := vector.CosineSimilarity(queryVec, emb.Vector)
		if err != nil {
			slog.Warn("skipping chunk with incompatible vector", "documentId", emb.DocumentID, "chunkIndex", emb.ChunkIndex, "error", err)
			continue
		}
		if current, ok := best[emb.DocumentID]; !ok || score > current.score {
			best[emb.DocumentID] = scoredChunk{embedding: emb, score: score}
		}
	}

	results := make([]domain.SearchResult, 0, len(best))
	for docID, chunk := range best {
		results = append(results, domain.SearchResult{
			DocumentID: docID,
			Score:      chunk.score,
			Snippet:    snippet(chunk.embedding.Text),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// retrieveRelevantChunks returns the document's topK chunks ranked by
// similarity to the query.
func (s *Service) retrieveRelevantChunks(ctx context.Context, documentID, query string) ([]scoredChunk, error) {
	queryVec, err := s.embedder.EmbedText(ctx, query, "RETRIEVAL_QUERY")
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindEmbedding, "embed query", err)
	}
	embeddings, err := s.store.ListEmbeddingsByDocument(documentID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindInternal, "list embeddings", err)
	}
	if len(embeddings) == 0 {
		return nil, domain.E(domain.ErrKindNoRelevantContent, "document has no indexed content")
	}
	scored := make([]scoredChunk, 0, len(embeddings))
	for _, emb := range embeddings {
		score, err := vector.CosineSimilarity(queryVec, emb.Vector)
		if err != nil {
			continue
		}
		scored = append(scored, scoredChunk{embedding: emb, score: score})
	}
	if len(scored) == 0 {
		return nil, domain.E(domain.ErrKindNoRelevantContent, "no comparable chunks for document")
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > s.topK {
		scored = scored[:s.topK]
	}
	return scored, nil
}

// ChatWithDocument answers a question grounded in one document's chunks and
// persists both turns of the exchange.
func (s *Service) ChatWithDocument(ctx context.Context, documentID, userID, question string) (domain.ChatResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.ChatResult{}, domain.E(domain.ErrKindValidation, "question is required")
	}
	doc, ok, err := s.store.GetDocument(documentID)
	if err != nil {
		return domain.ChatResult{}, domain.Wrap(domain.ErrKindInternal, "load document", err)
	}
	if !ok {
		return domain.ChatResult{}, domain.Ef(domain.ErrKindNotFound, "document not found: %s", documentID)
	}
	if doc.Status.Stage != domain.StageCompleted {
		return domain.ChatResult{}, domain.Ef(domain.ErrKindConflict, "document is not ready for chat: %s", doc.Status.Stage)
	}

	chunks, err := s.retrieveRelevantChunks(ctx, documentID, question)
	if err != nil {
		return domain.ChatResult{}, err
	}
	contextTexts := make([]string, 0, len(chunks))
	var contextBuilder strings.Builder
	for i, chunk := range chunks {
		contextTexts = append(contextTexts, chunk.embedding.Text)
		fmt.Fprintf(&contextBuilder, "[%d] %s\n\n", i+1, chunk.embedding.Text)
	}

	history, err := s.store.ListMessages(documentID, s.historyLimit)
	if err != nil {
		return domain.ChatResult{}, domain.Wrap(domain.ErrKindInternal, "load history", err)
	}
	messages := make([]ai.Message, 0, len(history)+2)
	messages = append(messages, ai.Message{
		Role:    "system",
		Content: chatSystemPrompt + "\n\nDocument context:\n" + contextBuilder.String(),
	})
	for _, msg := range history {
		messages = append(messages, ai.Message{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: question})

	response, err := s.completer.Complete(ctx, messages, ai.CompletionOptions{
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		return domain.ChatResult{}, domain.Wrap(domain.ErrKindInternal, "generate response", err)
	}
	response = strings.TrimSpace(response)

	now := time.Now().UTC()
	if err := s.store.AppendMessage(domain.Message{
		ID:         util.NewID(),
		DocumentID: documentID,
		UserID:     userID,
		Role:       "user",
		Content:    question,
		CreatedAt:  now,
	}); err != nil {
		return domain.ChatResult{}, domain.Wrap(domain.ErrKindInternal, "persist user message", err)
	}
	if err := s.store.AppendMessage(domain.Message{
		ID:         util.NewID(),
		DocumentID: documentID,
		UserID:     userID,
		Role:       "assistant",
		Content:    response,
		Context:    contextTexts,
		CreatedAt:  now.Add(time.Millisecond),
	}); err != nil {
		return domain.ChatResult{}, domain.Wrap(domain.ErrKindInternal, "persist assistant message", err)
	}

	return domain.ChatResult{Response: response, RetrievedChunks: contextTexts}, nil
}

// ConversationHistory returns the document's recent chat turns in
// chronological order.
func (s *Service) ConversationHistory(documentID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.store.ListMessages(documentID, limit)
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindInternal, "load history", err)
	}
	return msgs, nil
}

// ClearConversationHistory drops the document's chat log.
func (s *Service) ClearConversationHistory(documentID string) error {
	if err := s.store.ClearMessages(documentID); err != nil {
		return domain.Wrap(domain.ErrKindInternal, "clear history", err)
	}
	return nil
}

// FindSimilarDocuments ranks the owner's other documents by similarity to
// the source document. Each document is represented by the mean of its
// chunk vectors, which weighs the whole document rather than one chunk.
func (s *Service) FindSimilarDocuments(ctx context.Context, ownerID, documentID string, limit int) ([]domain.SimilarDocument, error) {
	if limit <= 0 {
		limit = 5
	}
	source, err := s.store.ListEmbeddingsByDocument(documentID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindInternal, "list source embeddings", err)
	}
	if len(source) == 0 {
		return nil, domain.E(domain.ErrKindNoRelevantContent, "document has no indexed content")
	}
	sourceVec := vector.Mean(vectorsOf(source))
	if sourceVec == nil {
		return nil, domain.E(domain.ErrKindInternal, "could not aggregate source vector")
	}

	all, err := s.store.ListEmbeddingsByOwner(ownerID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindInternal, "list embeddings", err)
	}
	byDoc := make(map[string][][]float32)
	for _, emb := range all {
		if emb.DocumentID == documentID {
			continue
		}
		byDoc[emb.DocumentID] = append(byDoc[emb.DocumentID], emb.Vector)
	}

	results := make([]domain.SimilarDocument, 0, len(byDoc))
	for docID, vectors := range byDoc {
		mean := vector.Mean(vectors)
		if mean == nil {
			continue
		}
		score, err := vector.CosineSimilarity(sourceVec, mean)
		if err != nil {
			continue
		}
		results = append(results, domain.SimilarDocument{DocumentID: docID, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocumentID < results[j].DocumentID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// staticQuestions backs SuggestedQuestions when the model is unavailable.
var staticQuestions = []string{
	"What is this document about?",
	"What are the key points?",
	"Are there any important dates or deadlines?",
}

// SuggestedQuestions proposes starter questions for a document's chat,
// derived from its summary.
func (s *Service) SuggestedQuestions(ctx context.Context, documentID string) ([]string, error) {
	doc, ok, err := s.store.GetDocument(documentID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrKindInternal, "load document", err)
	}
	if !ok {
		return nil, domain.Ef(domain.ErrKindNotFound, "document not found: %s", documentID)
	}
	if strings.TrimSpace(doc.Summary) == "" {
		return staticQuestions, nil
	}
	out, err := s.completer.Complete(ctx, []ai.Message{
		{Role: "system", Content: `Given a document summary, propose three short questions a reader might ask about the document. Reply with JSON only: {"questions":["...","...","..."]}.`},
		{Role: "user", Content: doc.Summary},
	}, ai.CompletionOptions{Temperature: 0.5, MaxTokens: 200, JSONMode: true})
	if err != nil {
		slog.Warn("suggested questions unavailable", "documentId", documentID, "error", err)
		return staticQuestions, nil
	}
	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil || len(parsed.Questions) == 0 {
		return staticQuestions, nil
	}
	return parsed.Questions, nil
}

func vectorsOf(embeddings []domain.Embedding) [][]float32 {
	vectors := make([][]float32, 0, len(embeddings))
	for _, emb := range embeddings {
		vectors = append(vectors, emb.Vector)
	}
	return vectors
}

func snippet(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= snippetLength {
		return string(runes)
	}
	return string(runes[:snippetLength]) + "..."
}
