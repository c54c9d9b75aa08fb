// Package evidence turns raw backend answers into stable, alias-mapped
// citation structures. Everything here is a pure function: the same raw
// input always produces the same aliases, so the streaming path and the
// background monitor can sanitize independently and agree.
package evidence

import (
	"fmt"
	"strings"

	"askbase/internal/models"
)

// RawMatch is one scored match as reported by the backend, keyed by the
// backend's own source identifier.
type RawMatch struct {
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Result is the sanitized form of an answer: rewritten text, the alias
// list in assignment order, and per-match entries carrying aliases
// instead of raw identifiers.
type Result struct {
	Answer  string
	Sources []string
	Matches []models.MatchItem
}

// Sanitize rewrites a raw answer so that inline citation tokens refer to
// display aliases ("Source #01", ...) instead of raw backend ids. The
// second return value is false when the answer has no usable content.
//
// Aliases are assigned by first appearance in the raw match list, never
// by score, so a re-run over the same input reproduces the same mapping.
func Sanitize(rawAnswer string, rawMatches []RawMatch) (Result, bool) {
	if strings.TrimSpace(rawAnswer) == "" {
		return Result{}, false
	}

	aliases := make(map[string]string)
	var sources []string
	for _, m := range rawMatches {
		src := strings.TrimSpace(m.Source)
		if src == "" {
			continue
		}
		if _, seen := aliases[src]; seen {
			continue
		}
		alias := fmt.Sprintf("Source #%02d", len(sources)+1)
		aliases[src] = alias
		sources = append(sources, alias)
	}

	answer := rewriteTokens(rawAnswer, func(token string) (string, bool) {
		alias, ok := aliases[normalizeToken(token)]
		return alias, ok
	})

	var matches []models.MatchItem
	for _, m := range rawMatches {
		alias, ok := aliases[strings.TrimSpace(m.Source)]
		if !ok {
			continue
		}
		matches = append(matches, models.MatchItem{
			ID:     fmt.Sprintf("m-%d", len(matches)+1),
			Score:  m.Score,
			Source: alias,
		})
	}

	return Result{Answer: answer, Sources: sources, Matches: matches}, true
}

// rewriteTokens replaces every bracketed token `[tok]` not immediately
// followed by "(" (markdown links keep their label) for which resolve
// returns a replacement. Unresolved tokens are left as-is.
func rewriteTokens(text string, resolve func(token string) (string, bool)) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		open := strings.IndexByte(text[i:], '[')
		if open < 0 {
			b.WriteString(text[i:])
			break
		}
		open += i
		close := strings.IndexByte(text[open:], ']')
		if close < 0 {
			b.WriteString(text[i:])
			break
		}
		close += open
		b.WriteString(text[i:open])

		isLink := close+1 < len(text) && text[close+1] == '('
		token := text[open+1 : close]
		if !isLink {
			if alias, ok := resolve(token); ok {
				b.WriteString("[" + alias + "]")
				i = close + 1
				continue
			}
		}
		b.WriteString(text[open : close+1])
		i = close + 1
	}
	return b.String()
}

// normalizeToken prepares an inline token for alias lookup: trim, then
// drop a leading "source=" prefix regardless of case.
func normalizeToken(token string) string {
	token = strings.TrimSpace(token)
	const prefix = "source="
	if len(token) >= len(prefix) && strings.EqualFold(token[:len(prefix)], prefix) {
		token = strings.TrimSpace(token[len(prefix):])
	}
	return token
}
