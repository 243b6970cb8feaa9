package dedup

import (
	"testing"
	"unicode/utf8"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{SimilarityThreshold: DefaultSimilarityThreshold})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(Config{SimilarityThreshold: 0}); err == nil {
		t.Error("Expected error for zero similarity threshold")
	}
	if _, err := NewEngine(Config{SimilarityThreshold: 1.5}); err == nil {
		t.Error("Expected error for similarity threshold above one")
	}
}

func TestCleanExactDuplicate(t *testing.T) {
	engine := testEngine(t)

	result := engine.Clean("hello world", "hello world")
	if result.Text != "" {
		t.Errorf("Expected empty text for exact duplicate, got %q", result.Text)
	}
	if result.Tier != TierExact {
		t.Errorf("Expected tier %v, got %v", TierExact, result.Tier)
	}
}

func TestCleanExactDuplicateCaseInsensitive(t *testing.T) {
	engine := testEngine(t)

	result := engine.Clean("Hello World", "hello world")
	if result.Text != "" {
		t.Errorf("Expected empty text for case-insensitive duplicate, got %q", result.Text)
	}
	if result.Tier != TierExact {
		t.Errorf("Expected tier %v, got %v", TierExact, result.Tier)
	}
}

func TestCleanContextPrefix(t *testing.T) {
	engine := testEngine(t)

	result := engine.Clean("the quick brown fox", "the quick brown fox jumps")
	if result.Text != "jumps" {
		t.Errorf("Expected %q, got %q", "jumps", result.Text)
	}
	if result.Tier != TierContextPrefix {
		t.Errorf("Expected tier %v, got %v", TierContextPrefix, result.Tier)
	}
}

func TestCleanTailOverlap(t *testing.T) {
	engine := testEngine(t)

	// The fragment repeats the last half of the reference ("the meeting",
	// 11 of 22 characters), not the whole reference, so only the tail
	// heuristic applies.
	reference := "notes from the meeting"
	result := engine.Clean(reference, "the meeting starts at noon")

	if result.Tier != TierTailOverlap {
		t.Fatalf("Expected tier %v, got %v (text %q)", TierTailOverlap, result.Tier, result.Text)
	}
	if result.Text != "starts at noon" {
		t.Errorf("Expected %q, got %q", "starts at noon", result.Text)
	}
}

func TestCleanContextPrefixMultiByte(t *testing.T) {
	engine := testEngine(t)

	result := engine.Clean("das größte Café", "das größte Café öffnet früh")
	if result.Tier != TierContextPrefix {
		t.Fatalf("Expected tier %v, got %v (text %q)", TierContextPrefix, result.Tier, result.Text)
	}
	if result.Text != "öffnet früh" {
		t.Errorf("Expected %q, got %q", "öffnet früh", result.Text)
	}
}

func TestCleanTailOverlapRuneBoundary(t *testing.T) {
	engine := testEngine(t)

	// Half of the reference's ten bytes lands inside a two-byte rune; the
	// tail must shrink to the next rune boundary instead of splitting it.
	reference := "ééééé"
	result := engine.Clean(reference, "éé plus du texte")

	if result.Tier != TierTailOverlap {
		t.Fatalf("Expected tier %v, got %v (text %q)", TierTailOverlap, result.Tier, result.Text)
	}
	if result.Text != "plus du texte" {
		t.Errorf("Expected %q, got %q", "plus du texte", result.Text)
	}
	if !utf8.ValidString(result.Text) {
		t.Errorf("Cleaned text is not valid UTF-8: %q", result.Text)
	}
}

func TestCleanNeverEmitsInvalidUTF8(t *testing.T) {
	engine := testEngine(t)

	// The dotless/dotted i pair lower-cases to a different byte length,
	// which used to let byte-index math cut through a combining mark.
	inputs := [][2]string{
		{"İstanbul hava durumu", "i̇stanbul hava durumu bugün güzel"},
		{"İİİİ", "İİ devamı"},
		{"crème brûlée", "crème brûlée à la carte"},
	}
	for _, pair := range inputs {
		result := engine.Clean(pair[0], pair[1])
		if !utf8.ValidString(result.Text) {
			t.Errorf("Clean(%q, %q) produced invalid UTF-8: %q", pair[0], pair[1], result.Text)
		}
	}
}

func TestCleanWordWindow(t *testing.T) {
	engine := testEngine(t)

	// Seven of the reference's ten trailing words lead the fragment in the
	// same positions, above the 70% bar, but the character-level tiers miss
	// because three words differ.
	reference := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	incoming := "alpha bravo gamma delta echo zeta eta thorn iota kappa lambda mu"

	result := engine.Clean(reference, incoming)
	if result.Tier != TierWordWindow {
		t.Fatalf("Expected tier %v, got %v (text %q)", TierWordWindow, result.Tier, result.Text)
	}
	if result.Text != "lambda mu" {
		t.Errorf("Expected %q, got %q", "lambda mu", result.Text)
	}
}

func TestCleanSimilarityFlagsWithoutErasing(t *testing.T) {
	engine := testEngine(t)

	// Same word set in a different order: positional heuristics miss, but
	// bag-of-words similarity is 1.0.
	reference := "please save the meeting notes now"
	incoming := "now save the meeting notes please"

	result := engine.Clean(reference, incoming)
	if result.Tier != TierSimilarity {
		t.Fatalf("Expected tier %v, got %v", TierSimilarity, result.Tier)
	}
	if !result.LikelyDuplicate {
		t.Error("Expected fragment to be flagged as likely duplicate")
	}
	if result.Text != incoming {
		t.Errorf("Similarity tier must not erase text, got %q", result.Text)
	}
	if result.Similarity <= DefaultSimilarityThreshold {
		t.Errorf("Expected similarity above %f, got %f", DefaultSimilarityThreshold, result.Similarity)
	}
}

func TestCleanUnrelatedText(t *testing.T) {
	engine := testEngine(t)

	result := engine.Clean("the weather is nice today", "schedule a meeting for tomorrow")
	if result.Tier != TierNone {
		t.Errorf("Expected tier %v, got %v", TierNone, result.Tier)
	}
	if result.Text != "schedule a meeting for tomorrow" {
		t.Errorf("Unrelated text must pass through unchanged, got %q", result.Text)
	}
	if result.LikelyDuplicate {
		t.Error("Unrelated text must not be flagged as duplicate")
	}
}

func TestCleanEmptyInputs(t *testing.T) {
	engine := testEngine(t)

	if result := engine.Clean("some context", ""); result.Text != "" {
		t.Errorf("Expected empty result for empty fragment, got %q", result.Text)
	}
	if result := engine.Clean("", "first words"); result.Text != "first words" {
		t.Errorf("Expected passthrough with no context, got %q", result.Text)
	}
}

func TestWordSetSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"identical", "hello world", "hello world", 1.0},
		{"identical ignoring punctuation", "hello, world!", "hello world", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"half overlap", "alpha beta", "beta gamma", 1.0 / 3.0},
		{"empty side", "", "hello", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wordSetSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("wordSetSimilarity(%q, %q) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAssembleOrdersByIndex(t *testing.T) {
	fragments := map[int]string{
		2: "there friend",
		0: "hello",
		1: "",
	}

	got := Assemble(fragments)
	if got != "hello there friend" {
		t.Errorf("Expected %q, got %q", "hello there friend", got)
	}
}

func TestAssembleIdempotentUnderInsertionOrder(t *testing.T) {
	a := map[int]string{0: "one", 1: "two", 2: "three"}
	b := map[int]string{2: "three", 0: "one", 1: "two"}

	if Assemble(a) != Assemble(b) {
		t.Errorf("Assembly depends on insertion order: %q vs %q", Assemble(a), Assemble(b))
	}
}

func TestAssembleEmptyFragmentsContributeNothing(t *testing.T) {
	withEmpty := map[int]string{0: "hello", 1: "", 2: "world"}
	without := map[int]string{0: "hello", 2: "world"}

	if Assemble(withEmpty) != Assemble(without) {
		t.Errorf("Empty fragment changed the transcript: %q vs %q", Assemble(withEmpty), Assemble(without))
	}
}

func TestAssembleRespectsExistingWhitespace(t *testing.T) {
	fragments := map[int]string{0: "hello ", 1: "world"}
	if got := Assemble(fragments); got != "hello world" {
		t.Errorf("Expected no doubled space, got %q", got)
	}

	fragments = map[int]string{0: "hello", 1: " world"}
	if got := Assemble(fragments); got != "hello world" {
		t.Errorf("Expected no doubled space, got %q", got)
	}
}

func TestAssembleEmptyMap(t *testing.T) {
	if got := Assemble(nil); got != "" {
		t.Errorf("Expected empty transcript for no fragments, got %q", got)
	}
}

func TestEngineStats(t *testing.T) {
	engine := testEngine(t)

	engine.Clean("hello world", "hello world")
	engine.Clean("the quick brown fox", "the quick brown fox jumps")
	engine.Clean("", "fresh text")

	stats := engine.GetStats()
	if stats.TotalCleaned != 3 {
		t.Errorf("Expected 3 cleaned fragments, got %d", stats.TotalCleaned)
	}
	if stats.TierHits["exact"] != 1 {
		t.Errorf("Expected 1 exact hit, got %d", stats.TierHits["exact"])
	}
	if stats.TierHits["context_prefix"] != 1 {
		t.Errorf("Expected 1 context_prefix hit, got %d", stats.TierHits["context_prefix"])
	}
}
