// Package enrich derives summaries, entities, document classes, and anomaly
// assessments from extracted text using a completion model. Every operation
// degrades to a usable fallback when the model is unreachable or returns
// malformed output; enrichment never fails a document.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"docmind/pkg/ai"
	"docmind/pkg/domain"
)

const (
	summaryInputLimit   = 15000
	entitiesInputLimit  = 10000
	classifyInputLimit  = 5000
	anomaliesInputLimit = 8000
)

// DocumentTypes is the closed classification vocabulary. Model output outside
// this set is coerced to "other".
var DocumentTypes = []string{
	"invoice", "contract", "resume", "report", "letter",
	"form", "receipt", "statement", "other",
}

// Anomaly is the result of anomaly detection. Score is in [0, 100].
type Anomaly struct {
	Score   float64 `json:"score"`
	Details string  `json:"details"`
}

// Enricher runs model-backed analysis over document text.
type Enricher struct {
	completer ai.Completer
}

// New builds an enricher over the given completion backend.
func New(completer ai.Completer) *Enricher {
	return &Enricher{completer: completer}
}

// Summarize produces a concise summary of the text. On failure it returns a
// truncated excerpt so downstream consumers always have something to show.
func (e *Enricher) Summarize(ctx context.Context, text string) string {
	input := truncateRunes(text, summaryInputLimit)
	out, err := e.completer.Complete(ctx, []ai.Message{
		{Role: "system", Content: "You summarize documents. Reply with a concise summary of at most three sentences. Do not add commentary."},
		{Role: "user", Content: input},
	}, ai.CompletionOptions{Temperature: 0.3, MaxTokens: 500})
	if err != nil {
		slog.Warn("summarize failed, using excerpt fallback", "error", err)
		return fallbackSummary(text)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return fallbackSummary(text)
	}
	return out
}

// ExtractEntities finds named entities in the text. The model is asked for
// JSON; if the call or the parse fails, a regex pass over the raw text
// supplies emails, phone numbers, dates, and money amounts instead.
func (e *Enricher) ExtractEntities(ctx context.Context, text string) []domain.Entity {
	input := truncateRunes(text, entitiesInputLimit)
	out, err := e.completer.Complete(ctx, []ai.Message{
		{Role: "system", Content: `You extract named entities from documents. Reply with JSON only, shaped as {"entities":[{"type":"person|organization|location|date|money|email|phone|other","value":"...","confidence":0.0}]}.`},
		{Role: "user", Content: input},
	}, ai.CompletionOptions{Temperature: 0, MaxTokens: 1000, JSONMode: true})
	if err != nil {
		slog.Warn("entity extraction failed, using regex fallback", "error", err)
		return FallbackEntities(text)
	}
	entities, err := parseEntities(out)
	if err != nil {
		slog.Warn("entity response unparseable, using regex fallback", "error", err)
		return FallbackEntities(text)
	}
	return entities
}

type entityEnvelope struct {
	Entities []struct {
		Type       string  `json:"type"`
		Value      string  `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
}

func parseEntities(raw string) ([]domain.Entity, error) {
	var env entityEnvelope
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &env); err != nil {
		return nil, err
	}
	entities := make([]domain.Entity, 0, len(env.Entities))
	for _, item := range env.Entities {
		value := strings.TrimSpace(item.Value)
		if value == "" {
			continue
		}
		conf := item.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		entities = append(entities, domain.Entity{
			Type:       normalizeEntityType(item.Type),
			Value:      value,
			Confidence: conf,
		})
	}
	return entities, nil
}

func normalizeEntityType(t string) domain.EntityType {
	switch typ := domain.EntityType(strings.ToLower(strings.TrimSpace(t))); typ {
	case domain.EntityPerson, domain.EntityOrganization, domain.EntityLocation,
		domain.EntityDate, domain.EntityMoney, domain.EntityEmail, domain.EntityPhone,
		domain.EntityID:
		return typ
	default:
		return domain.EntityOther
	}
}

// Classify assigns the document one label from DocumentTypes. Unknown or
// failed output coerces to "other".
func (e *Enricher) Classify(ctx context.Context, text string) string {
	input := truncateRunes(text, classifyInputLimit)
	out, err := e.completer.Complete(ctx, []ai.Message{
		{Role: "system", Content: "Classify the document into exactly one of: " + strings.Join(DocumentTypes, ", ") + ". Reply with the single label only."},
		{Role: "user", Content: input},
	}, ai.CompletionOptions{Temperature: 0.1, MaxTokens: 20})
	if err != nil {
		slog.Warn("classification failed, defaulting to other", "error", err)
		return "other"
	}
	label := strings.ToLower(strings.TrimSpace(strings.Trim(out, `."'`)))
	for _, t := range DocumentTypes {
		if label == t {
			return t
		}
	}
	slog.Debug("classification outside vocabulary", "label", label)
	return "other"
}

// DetectAnomalies asks the model for an anomaly assessment of the text. On
// any failure it reports a zero score with an "unavailable" marker rather
// than blocking processing.
func (e *Enricher) DetectAnomalies(ctx context.Context, text string) Anomaly {
	input := truncateRunes(text, anomaliesInputLimit)
	out, err := e.completer.Complete(ctx, []ai.Message{
		{Role: "system", Content: `You audit documents for anomalies such as inconsistent dates, mismatched totals, or contradictory statements. Reply with JSON only: {"score":0,"details":"..."} where score is 0 to 100.`},
		{Role: "user", Content: input},
	}, ai.CompletionOptions{Temperature: 0, MaxTokens: 300, JSONMode: true})
	if err != nil {
		slog.Warn("anomaly detection failed", "error", err)
		return Anomaly{Score: 0, Details: "anomaly detection unavailable"}
	}
	var result Anomaly
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &result); err != nil {
		slog.Warn("anomaly response unparseable", "error", err)
		return Anomaly{Score: 0, Details: "anomaly detection unavailable"}
	}
	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}
	if strings.TrimSpace(result.Details) == "" {
		result.Details = "no anomalies reported"
	}
	return result
}

// fallbackSummary is the leading excerpt of the text, capped at 300 runes.
func fallbackSummary(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= 300 {
		return text
	}
	return string(runes[:300]) + "..."
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// stripCodeFence tolerates models wrapping JSON in markdown fences.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
