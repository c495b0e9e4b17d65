package extraction

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultNearDupThreshold is the maximum normalized length difference for two quotes to
// be compared by containment.
const DefaultNearDupThreshold = 5

// DefaultMergeThreshold is the title similarity ratio at which two items are merged.
const DefaultMergeThreshold = 0.85

// DedupeNear drops quotes that nearly duplicate an earlier one: their normalized,
// lower-cased texts differ in length by at most threshold and one contains the other.
// Quotes with an empty normalized text are dropped too. The first occurrence is kept.
//
// This is a heuristic: short quotes that are prefixes of one another collapse even when
// they are distinct statements.
func DedupeNear(quotes []Quote, threshold int) []Quote {
	if threshold < 0 {
		threshold = 0
	}
	type seenKey struct {
		text  string
		runes int
	}
	var (
		seen []seenKey
		out  = make([]Quote, 0, len(quotes))
	)
	for _, q := range quotes {
		key := DedupKey(q.Quote)
		if key == "" {
			continue
		}
		n := utf8.RuneCountInString(key)
		dup := false
		for _, s := range seen {
			if absInt(n-s.runes) > threshold {
				continue
			}
			if strings.Contains(s.text, key) || strings.Contains(key, s.text) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen = append(seen, seenKey{text: key, runes: n})
		out = append(out, q)
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

var titleStrip = regexp.MustCompile(`[^a-z0-9 ]+`)

func normalizeTitle(s string) string {
	return titleStrip.ReplaceAllString(strings.ToLower(s), "")
}

// TitleSimilarity is the SequenceMatcher ratio of two titles after lower-casing and
// stripping everything but ASCII letters, digits and spaces.
func TitleSimilarity(a, b string) float64 {
	return difflib.NewMatcher(splitChars(normalizeTitle(a)), splitChars(normalizeTitle(b))).Ratio()
}

func splitChars(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// MergeSimilarItems folds each item into the first earlier item whose title similarity
// is at least threshold. Evidence pages, evidence quotes and detected names are unioned
// and sorted into the surviving item. Untitled items are never merged.
func MergeSimilarItems(items []Item, threshold float64) []Item {
	merged := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Title) == "" {
			merged = append(merged, it)
			continue
		}
		found := false
		for i := range merged {
			if strings.TrimSpace(merged[i].Title) == "" {
				continue
			}
			if TitleSimilarity(it.Title, merged[i].Title) >= threshold {
				merged[i].EvidencePages = unionInts(merged[i].EvidencePages, it.EvidencePages)
				merged[i].EvidenceQuotes = unionStrings(merged[i].EvidenceQuotes, it.EvidenceQuotes)
				merged[i].NamesDetected = unionStrings(merged[i].NamesDetected, it.NamesDetected)
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, it)
		}
	}
	return merged
}

func unionInts(a, b []int) []int {
	set := make(map[int]struct{}, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, v := range append(append([]int(nil), a...), b...) {
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func unionStrings(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string(nil), a...), b...) {
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
