// internal/deck/import.go
package deck

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Import is one deck parsed out of an upload.
type Import struct {
	Name  string   `json:"name"`
	Cards []string `json:"cards"`
}

// ParseImport turns uploaded deck data into one or more decks. Accepted
// shapes, tried in order:
//
//	JSON array of strings            ["a", "b"]
//	JSON single deck                 {"name": "...", "cards": [...]}
//	JSON multi-deck                  {"decks": [{"name": ..., "cards": ...}]}
//	newline-delimited text           one card per non-empty line
//
// fallbackName names decks that carry no name of their own. Cards are trimmed
// and blank entries dropped; a deck that ends up empty is skipped. Order is
// preserved throughout.
func ParseImport(fallbackName string, data []byte) ([]Import, error) {
	fallbackName = strings.TrimSpace(fallbackName)
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, ErrNoCards
	}

	if decks, ok := parseJSONImport(fallbackName, data); ok {
		if len(decks) == 0 {
			return nil, ErrNoCards
		}
		return decks, nil
	}

	// Plain text: one card per line.
	cards := CleanCards(strings.Split(text, "\n"))
	if len(cards) == 0 {
		return nil, ErrNoCards
	}
	if fallbackName == "" {
		return nil, ErrEmptyName
	}
	return []Import{{Name: fallbackName, Cards: cards}}, nil
}

func parseJSONImport(fallbackName string, data []byte) ([]Import, bool) {
	var cards []string
	if err := json.Unmarshal(data, &cards); err == nil {
		cleaned := CleanCards(cards)
		if len(cleaned) == 0 || fallbackName == "" {
			return nil, true
		}
		return []Import{{Name: fallbackName, Cards: cleaned}}, true
	}

	var multi struct {
		Decks []Import `json:"decks"`
	}
	if err := json.Unmarshal(data, &multi); err == nil && len(multi.Decks) > 0 {
		return cleanImports(multi.Decks, fallbackName), true
	}

	var single Import
	if err := json.Unmarshal(data, &single); err == nil && len(single.Cards) > 0 {
		return cleanImports([]Import{single}, fallbackName), true
	}

	return nil, false
}

func cleanImports(decks []Import, fallbackName string) []Import {
	out := make([]Import, 0, len(decks))
	for i, d := range decks {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			d.Name = fallbackName
			if len(decks) > 1 && d.Name != "" {
				d.Name = numberedName(fallbackName, i+1)
			}
		}
		d.Cards = CleanCards(d.Cards)
		if d.Name == "" || len(d.Cards) == 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

func numberedName(base string, n int) string {
	return base + " " + strconv.Itoa(n)
}
