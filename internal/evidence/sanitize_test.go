package evidence

import (
	"reflect"
	"testing"
)

func TestSanitizeAliasOrdering(t *testing.T) {
	raw := "Share grew [report.md]. This is an estimate [analysis.md]."
	matches := []RawMatch{
		{Source: "report.md", Score: 0.42},
		{Source: "analysis.md", Score: 0.91},
	}

	res, ok := Sanitize(raw, matches)
	if !ok {
		t.Fatalf("expected a result")
	}
	if res.Answer != "Share grew [Source #01]. This is an estimate [Source #02]." {
		t.Fatalf("unexpected answer: %q", res.Answer)
	}
	wantSources := []string{"Source #01", "Source #02"}
	if !reflect.DeepEqual(res.Sources, wantSources) {
		t.Fatalf("sources = %v, want %v", res.Sources, wantSources)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(res.Matches))
	}
	if res.Matches[0].ID != "m-1" || res.Matches[0].Source != "Source #01" || res.Matches[0].Score != 0.42 {
		t.Fatalf("unexpected first match: %+v", res.Matches[0])
	}
	if res.Matches[1].ID != "m-2" || res.Matches[1].Source != "Source #02" {
		t.Fatalf("unexpected second match: %+v", res.Matches[1])
	}
}

func TestSanitizeIsDeterministic(t *testing.T) {
	raw := "See [b.md] then [a.md] then [b.md] again."
	matches := []RawMatch{
		{Source: "b.md", Score: 0.2},
		{Source: "a.md", Score: 0.9},
		{Source: "b.md", Score: 0.5},
	}

	first, ok := Sanitize(raw, matches)
	if !ok {
		t.Fatalf("expected a result")
	}
	second, _ := Sanitize(raw, matches)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("sanitize is not stable: %+v vs %+v", first, second)
	}
	// Aliases follow match-list order, not score order.
	if first.Sources[0] != "Source #01" || first.Answer[4:16] != "[Source #01]" {
		t.Fatalf("b.md should map to the first alias: %+v", first)
	}
	// Repeated raw sources keep their shared alias, one entry per match.
	if len(first.Matches) != 3 || first.Matches[2].Source != "Source #01" || first.Matches[2].ID != "m-3" {
		t.Fatalf("unexpected matches: %+v", first.Matches)
	}
}

func TestSanitizeSourcePrefixAndUnknownTokens(t *testing.T) {
	raw := "Proved [source=doc.pdf] but unknown [mystery] stays."
	res, ok := Sanitize(raw, []RawMatch{{Source: "doc.pdf", Score: 1}})
	if !ok {
		t.Fatalf("expected a result")
	}
	want := "Proved [Source #01] but unknown [mystery] stays."
	if res.Answer != want {
		t.Fatalf("answer = %q, want %q", res.Answer, want)
	}
}

func TestSanitizeLeavesMarkdownLinks(t *testing.T) {
	raw := "Read [doc.pdf](https://example.com/doc.pdf) and [doc.pdf]."
	res, ok := Sanitize(raw, []RawMatch{{Source: "doc.pdf", Score: 0.5}})
	if !ok {
		t.Fatalf("expected a result")
	}
	want := "Read [doc.pdf](https://example.com/doc.pdf) and [Source #01]."
	if res.Answer != want {
		t.Fatalf("answer = %q, want %q", res.Answer, want)
	}
}

func TestSanitizeEmptyAnswer(t *testing.T) {
	if _, ok := Sanitize("   \n\t", []RawMatch{{Source: "a.md"}}); ok {
		t.Fatalf("whitespace answer should produce no result")
	}
}

func TestSanitizeDropsBlankSources(t *testing.T) {
	res, ok := Sanitize("Answer text.", []RawMatch{
		{Source: "  ", Score: 0.3},
		{Source: "kept.md", Score: 0.7},
	})
	if !ok {
		t.Fatalf("expected a result")
	}
	if len(res.Sources) != 1 || res.Sources[0] != "Source #01" {
		t.Fatalf("unexpected sources: %v", res.Sources)
	}
	if len(res.Matches) != 1 || res.Matches[0].ID != "m-1" {
		t.Fatalf("blank-source match should be dropped: %+v", res.Matches)
	}
}
