package dedup

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// DefaultSimilarityThreshold is the bag-of-words ratio above which a
// fragment is flagged as a likely duplicate.
const DefaultSimilarityThreshold = 0.85

// Overlap-window sizing for the tail and word-level heuristics.
const (
	maxTailOverlapChars = 50
	wordWindowSize      = 10
	wordMatchRatio      = 0.7
)

// Tier identifies which heuristic resolved a fragment
type Tier int

const (
	TierNone Tier = iota
	TierExact
	TierContextPrefix
	TierTailOverlap
	TierWordWindow
	TierSimilarity
)

// String returns string representation of the tier
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierExact:
		return "exact"
	case TierContextPrefix:
		return "context_prefix"
	case TierTailOverlap:
		return "tail_overlap"
	case TierWordWindow:
		return "word_window"
	case TierSimilarity:
		return "similarity"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// CleanResult is the outcome of running one raw fragment through the funnel
type CleanResult struct {
	Text            string  `json:"text"`
	Tier            Tier    `json:"tier"`
	Similarity      float64 `json:"similarity"`
	LikelyDuplicate bool    `json:"likely_duplicate"`
}

// Config contains engine parameters
type Config struct {
	SimilarityThreshold float64
}

// Engine cleans raw transcription fragments against accumulated context
type Engine struct {
	config Config

	// Statistics
	totalCleaned uint64
	tierHits     map[Tier]uint64

	mu sync.RWMutex
}

// EngineStats represents engine statistics for monitoring
type EngineStats struct {
	TotalCleaned uint64            `json:"total_cleaned"`
	TierHits     map[string]uint64 `json:"tier_hits"`
}

// NewEngine creates a deduplication engine
func NewEngine(config Config) (*Engine, error) {
	if config.SimilarityThreshold <= 0 || config.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in (0, 1], got %f", config.SimilarityThreshold)
	}

	return &Engine{
		config:   config,
		tierHits: make(map[Tier]uint64),
	}, nil
}

// Clean removes textual overlap between a new fragment and the reference
// context it was transcribed against. The heuristics run in order from
// cheapest to most permissive, each short-circuiting on a match. The final
// similarity tier only flags likely-duplicate content; it never erases text
// on its own, because the decision is deferred to a semantic validation
// call owned by the caller.
func (e *Engine) Clean(reference, incoming string) CleanResult {
	reference = strings.TrimSpace(reference)
	incoming = strings.TrimSpace(incoming)

	result := e.clean(reference, incoming)

	e.mu.Lock()
	e.totalCleaned++
	e.tierHits[result.Tier]++
	e.mu.Unlock()

	return result
}

func (e *Engine) clean(reference, incoming string) CleanResult {
	if incoming == "" {
		return CleanResult{Tier: TierNone}
	}
	if reference == "" {
		return CleanResult{Text: incoming, Tier: TierNone}
	}

	// Tier 1: fragment repeats the reference verbatim.
	if strings.EqualFold(incoming, reference) {
		return CleanResult{Tier: TierExact}
	}

	// Tier 2: fragment begins with the entire reference. Comparing the
	// raw byte prefix fold-wise keeps the cut on a rune boundary: a
	// prefix that splits a multi-byte rune can never fold-match.
	if len(incoming) > len(reference) && strings.EqualFold(incoming[:len(reference)], reference) {
		return CleanResult{
			Text: strings.TrimSpace(incoming[len(reference):]),
			Tier: TierContextPrefix,
		}
	}

	// Tier 3: fragment begins with the reference's tail.
	tail := referenceTail(reference)
	if tail != "" && len(incoming) >= len(tail) && strings.EqualFold(incoming[:len(tail)], tail) {
		return CleanResult{
			Text: strings.TrimSpace(incoming[len(tail):]),
			Tier: TierTailOverlap,
		}
	}

	// Tier 4: positional word match between the reference's trailing
	// window and the fragment's head.
	refWords := strings.Fields(strings.ToLower(reference))
	newWords := strings.Fields(strings.ToLower(incoming))
	window := wordWindowSize
	if len(refWords) < window {
		window = len(refWords)
	}
	if len(newWords) < window {
		window = len(newWords)
	}
	if window > 0 {
		tail := refWords[len(refWords)-window:]
		matched := 0
		for i := 0; i < window; i++ {
			if tail[i] == newWords[i] {
				matched++
			}
		}
		if float64(matched)/float64(window) >= wordMatchRatio {
			remaining := strings.Fields(incoming)[window:]
			return CleanResult{
				Text: strings.Join(remaining, " "),
				Tier: TierWordWindow,
			}
		}
	}

	// Tier 5: bag-of-words similarity, diagnostic only.
	similarity := wordSetSimilarity(reference, incoming)
	if similarity > e.config.SimilarityThreshold {
		return CleanResult{
			Text:            incoming,
			Tier:            TierSimilarity,
			Similarity:      similarity,
			LikelyDuplicate: true,
		}
	}

	return CleanResult{Text: incoming, Tier: TierNone, Similarity: similarity}
}

// referenceTail returns the overlap-candidate tail of the reference, at
// most half its bytes capped at maxTailOverlapChars, nudged forward onto
// a rune boundary.
func referenceTail(reference string) string {
	tailLen := len(reference) / 2
	if tailLen > maxTailOverlapChars {
		tailLen = maxTailOverlapChars
	}
	start := len(reference) - tailLen
	for start < len(reference) && !utf8.RuneStart(reference[start]) {
		start++
	}
	return reference[start:]
}

// wordSetSimilarity computes the intersection-over-union ratio of the two
// texts' word sets, lower-cased and stripped of punctuation.
func wordSetSimilarity(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for word := range setA {
		if _, ok := setB[word]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection

	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if word != "" {
			set[word] = struct{}{}
		}
	}
	return set
}

// Assemble concatenates resolved fragments in slice-index order, inserting
// a single space only where the neighboring fragments are not already
// whitespace-adjacent. Empty fragments contribute nothing.
func Assemble(fragments map[int]string) string {
	indexes := make([]int, 0, len(fragments))
	for index := range fragments {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	var builder strings.Builder
	for _, index := range indexes {
		fragment := fragments[index]
		if fragment == "" {
			continue
		}
		if builder.Len() > 0 && !endsWithSpace(builder.String()) && !startsWithSpace(fragment) {
			builder.WriteByte(' ')
		}
		builder.WriteString(fragment)
	}

	return builder.String()
}

func endsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[len(s)-1]))
}

func startsWithSpace(s string) bool {
	return s != "" && unicode.IsSpace(rune(s[0]))
}

// GetStats returns current engine statistics
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hits := make(map[string]uint64, len(e.tierHits))
	for tier, count := range e.tierHits {
		hits[tier.String()] = count
	}

	return EngineStats{
		TotalCleaned: e.totalCleaned,
		TierHits:     hits,
	}
}
