package domain

import "time"

type Stage string

const (
	StageUploaded   Stage = "uploaded"
	StageProcessing Stage = "processing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// ProcessingStatus is the durable per-document pipeline checkpoint.
type ProcessingStatus struct {
	Stage       Stage      `json:"stage"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityLocation     EntityType = "location"
	EntityDate         EntityType = "date"
	EntityMoney        EntityType = "money"
	EntityEmail        EntityType = "email"
	EntityPhone        EntityType = "phone"
	EntityID           EntityType = "id"
	EntityOther        EntityType = "other"
)

// Entity is a typed value extracted from document text.
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Confidence float64    `json:"confidence,omitempty"`
	StartIndex int        `json:"startIndex,omitempty"`
	EndIndex   int        `json:"endIndex,omitempty"`
}

// Embedding is one chunk vector attached to a document. ChunkIndex matches
// the chunk's position in the chunking pass that produced it.
type Embedding struct {
	DocumentID string    `json:"documentId"`
	ChunkIndex int       `json:"chunkIndex"`
	Vector     []float32 `json:"vector"`
	Model      string    `json:"model"`
	Text       string    `json:"text"`
}

// Document is the aggregate root for an uploaded file and everything the
// pipeline derives from it.
type Document struct {
	ID             string           `json:"id"`
	OwnerID        string           `json:"ownerId"`
	Filename       string           `json:"filename"`
	OriginalName   string           `json:"originalName"`
	FileType       string           `json:"fileType"`
	SizeBytes      int64            `json:"sizeBytes"`
	StorageKey     string           `json:"-"`
	Status         ProcessingStatus `json:"status"`
	ExtractedText  string           `json:"extractedText,omitempty"`
	Summary        string           `json:"summary,omitempty"`
	DocumentType   string           `json:"documentType,omitempty"`
	Entities       []Entity         `json:"entities,omitempty"`
	PageCount      int              `json:"pageCount,omitempty"`
	AnomalyScore   float64          `json:"anomalyScore"`
	AnomalyDetails string           `json:"anomalyDetails,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Message is one turn in a document's chat log. Context holds the chunks an
// assistant reply was grounded on; it is empty for user turns.
type Message struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	UserID     string    `json:"userId"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Context    []string  `json:"context,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SearchResult is one semantic-search hit, the best-scoring chunk of a
// document.
type SearchResult struct {
	DocumentID string  `json:"documentId"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// SimilarDocument pairs a document with its aggregate similarity to a
// source document.
type SimilarDocument struct {
	DocumentID string  `json:"documentId"`
	Score      float64 `json:"score"`
}

// ChatResult is the outcome of one grounded chat turn.
type ChatResult struct {
	Response        string   `json:"response"`
	RetrievedChunks []string `json:"retrievedChunks"`
}
