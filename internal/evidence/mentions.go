package evidence

import (
	"regexp"
	"strings"

	"askbase/internal/models"
)

// lookbackWindow bounds how far before a citation token the extractor
// searches for snippet text and reliability markers.
const lookbackWindow = 320

// maxSnippetLen bounds the display snippet length.
const maxSnippetLen = 220

// minSentenceLen is the shortest trailing sentence preferred over the
// whole candidate line.
const minSentenceLen = 35

var (
	markdownLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bracketTokenRe   = regexp.MustCompile(`\[[^\]]*\]`)
	emphasisRe       = regexp.MustCompile("[*_`]+")
	listHeadingRe    = regexp.MustCompile(`^\s*(?:[-+*]\s+|#{1,6}\s+|\d+[.)]\s+)+`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
	sentenceSplitRe  = regexp.MustCompile(`[.!?](?:\s+|$)`)
	inferenceWordsRe = regexp.MustCompile(`(?i)\b(suggests?|implie[sd]|indicat(?:es?|ed)|likely|appears?|estimat(?:es?|ed)|inferred|probably|presumably)\b`)
	baselineWordsRe  = regexp.MustCompile(`(?i)\b(baseline|threshold|benchmark|target value|recommended (?:value|range)|rule of thumb)\b`)
)

// reliabilityMarkers are explicit inline tags, checked before any
// heuristic. Longer markers win ties when two end at the same position.
var reliabilityMarkers = []struct {
	tag string
	rel models.Reliability
}{
	{"[Suggested baseline (inference)]", models.ReliabilityBaseline},
	{"[Inference]", models.ReliabilityInference},
	{"[Unlabeled]", models.ReliabilityUnlabeled},
	{"[KB]", models.ReliabilityKB},
}

// ExtractMentions locates every citation of a known alias inside an
// already-sanitized answer and derives a highlightable snippet plus a
// reliability class for each. Mentions referencing aliases not present
// in citations are dropped. Output is deduplicated by the full
// (source, reliability, snippet) triple.
func ExtractMentions(answer string, citations []string) []models.CitationMention {
	if answer == "" || len(citations) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(citations))
	for _, c := range citations {
		known[c] = struct{}{}
	}

	var mentions []models.CitationMention
	seen := make(map[string]struct{})

	for i := 0; i < len(answer); {
		open := strings.IndexByte(answer[i:], '[')
		if open < 0 {
			break
		}
		open += i
		close := strings.IndexByte(answer[open:], ']')
		if close < 0 {
			break
		}
		close += open
		i = close + 1

		// Markdown links keep their bracket text; skip them.
		if close+1 < len(answer) && answer[close+1] == '(' {
			continue
		}
		alias := answer[open+1 : close]
		if _, ok := known[alias]; !ok {
			continue
		}

		snippet := snippetBefore(answer, open)
		rel := classifyReliability(answer, open)
		key := alias + "\x00" + string(rel) + "\x00" + snippet
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		mentions = append(mentions, models.CitationMention{
			Source:      alias,
			Snippet:     snippet,
			Reliability: rel,
		})
	}
	return mentions
}

// snippetBefore derives the display snippet for a citation token that
// starts at pos: first the current line up to the token, widened to the
// last non-empty line of a lookback window when the line holds nothing.
func snippetBefore(answer string, pos int) string {
	lineStart := strings.LastIndexByte(answer[:pos], '\n') + 1
	candidate := cleanSnippet(answer[lineStart:pos])

	if candidate == "" {
		winStart := pos - lookbackWindow
		if winStart < 0 {
			winStart = 0
		}
		for _, line := range splitLinesReverse(answer[winStart:pos]) {
			if cleaned := cleanSnippet(line); cleaned != "" {
				candidate = cleaned
				break
			}
		}
	}
	if candidate == "" {
		return ""
	}

	if last := lastSentence(candidate); len(last) >= minSentenceLen {
		candidate = last
	}
	return truncateRunes(candidate, maxSnippetLen)
}

// classifyReliability scans backwards from the token for an explicit
// marker, the current line first and then a bounded lookback; the
// nearest marker wins, the longer one on a tie. Without a marker it
// falls back to vocabulary heuristics and finally KB.
func classifyReliability(answer string, pos int) models.Reliability {
	lineStart := strings.LastIndexByte(answer[:pos], '\n') + 1
	winStart := pos - lookbackWindow
	if winStart < 0 {
		winStart = 0
	}

	for _, region := range []string{answer[lineStart:pos], answer[winStart:pos]} {
		if rel, ok := explicitMarker(region); ok {
			return rel
		}
	}

	window := answer[winStart:pos]
	if baselineWordsRe.MatchString(window) {
		return models.ReliabilityBaseline
	}
	if inferenceWordsRe.MatchString(window) {
		return models.ReliabilityInference
	}
	return models.ReliabilityKB
}

func explicitMarker(region string) (models.Reliability, bool) {
	lower := strings.ToLower(region)
	best := -1
	bestLen := 0
	var bestRel models.Reliability
	for _, m := range reliabilityMarkers {
		idx := strings.LastIndex(lower, strings.ToLower(m.tag))
		if idx < 0 {
			continue
		}
		end := idx + len(m.tag)
		if end > best || (end == best && len(m.tag) > bestLen) {
			best = end
			bestLen = len(m.tag)
			bestRel = m.rel
		}
	}
	if best < 0 {
		return "", false
	}
	return bestRel, true
}

// cleanSnippet strips citation tokens and markdown decoration from a
// candidate line and collapses whitespace.
func cleanSnippet(s string) string {
	s = markdownLinkRe.ReplaceAllString(s, "$1")
	s = bracketTokenRe.ReplaceAllString(s, " ")
	s = emphasisRe.ReplaceAllString(s, "")
	s = listHeadingRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// lastSentence returns the trailing sentence of s, or s itself when no
// sentence boundary is found.
func lastSentence(s string) string {
	bounds := sentenceSplitRe.FindAllStringIndex(s, -1)
	if len(bounds) == 0 {
		return s
	}
	last := bounds[len(bounds)-1]
	if last[1] >= len(s) && len(bounds) >= 2 {
		// The final terminator closes the string; the last sentence
		// starts after the one before it.
		return strings.TrimSpace(s[bounds[len(bounds)-2][1]:])
	}
	if last[1] >= len(s) {
		return s
	}
	return strings.TrimSpace(s[last[1]:])
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func splitLinesReverse(s string) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		out = append(out, lines[i])
	}
	return out
}
