package models

// MatchItem is one scored knowledge-base match backing an answer. Source
// is always a display alias ("Source #01", ...), never the raw backend
// identifier.
type MatchItem struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Reliability classifies how a cited statement is supported.
type Reliability string

const (
	ReliabilityKB        Reliability = "KB"
	ReliabilityInference Reliability = "Inference"
	ReliabilityBaseline  Reliability = "Suggested baseline (inference)"
	ReliabilityUnlabeled Reliability = "Unlabeled"
)

// CitationMention is a highlightable occurrence of a citation inside an
// answer. It is derived from the stored content and citation list, never
// persisted on its own.
type CitationMention struct {
	Source      string      `json:"source"`
	Snippet     string      `json:"snippet"`
	Reliability Reliability `json:"reliability"`
}
