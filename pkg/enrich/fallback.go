package enrich

import (
	"regexp"

	"docmind/pkg/domain"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{1,2}[\s.\-]?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`)
	datePattern  = regexp.MustCompile(`\b\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	moneyPattern = regexp.MustCompile(`\$\s?\d[\d,]*(?:\.\d{2})?`)
)

// FallbackEntities is a pattern-based entity pass used when model extraction
// is unavailable. It only covers mechanically recognizable types.
func FallbackEntities(text string) []domain.Entity {
	var entities []domain.Entity
	appendMatches := func(pattern *regexp.Regexp, entityType domain.EntityType) {
		seen := make(map[string]bool)
		for _, loc := range pattern.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if seen[value] {
				continue
			}
			seen[value] = true
			entities = append(entities, domain.Entity{
				Type:       entityType,
				Value:      value,
				Confidence: 0.9,
				StartIndex: loc[0],
				EndIndex:   loc[1],
			})
		}
	}
	appendMatches(emailPattern, domain.EntityEmail)
	appendMatches(phonePattern, domain.EntityPhone)
	appendMatches(datePattern, domain.EntityDate)
	appendMatches(moneyPattern, domain.EntityMoney)
	return entities
}
