package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quotesOf(texts ...string) []Quote {
	out := make([]Quote, 0, len(texts))
	for i, s := range texts {
		out = append(out, Quote{PageStart: i + 1, PageEnd: i + 1, Quote: s})
	}
	return out
}

func TestDedupeNear_DropsContainedWithinThreshold(t *testing.T) {
	t.Parallel()

	got := DedupeNear(quotesOf(
		"We should build a sync tool",
		"we should build a sync tool!",
		"We should build a sync tool for every device we own",
		"Something else entirely",
	), DefaultNearDupThreshold)

	require.Len(t, got, 3)
	assert.Equal(t, "We should build a sync tool", got[0].Quote)
	assert.Equal(t, "We should build a sync tool for every device we own", got[1].Quote)
	assert.Equal(t, "Something else entirely", got[2].Quote)
}

func TestDedupeNear_KeepsFirstOccurrence(t *testing.T) {
	t.Parallel()

	got := DedupeNear(quotesOf("Alpha beta", "alpha   BETA"), 0)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].PageStart)
}

func TestDedupeNear_DropsBlank(t *testing.T) {
	t.Parallel()

	got := DedupeNear(quotesOf(" ", "real"), DefaultNearDupThreshold)
	require.Len(t, got, 1)
	assert.Equal(t, "real", got[0].Quote)
}

func TestDedupeNear_ShortPrefixesCollapse(t *testing.T) {
	t.Parallel()

	// Known over-merge: distinct statements that are prefixes of each other.
	got := DedupeNear(quotesOf("I agree", "I agree not"), DefaultNearDupThreshold)
	assert.Len(t, got, 1)
}

func TestTitleSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, TitleSimilarity("Quote Miner!", "quote miner"), 1e-9)
	assert.Less(t, TitleSimilarity("Quote Miner", "Budget Tracker"), DefaultMergeThreshold)
	assert.GreaterOrEqual(t, TitleSimilarity("Quote Miner App", "Quote Miner Apps"), DefaultMergeThreshold)
}

func TestMergeSimilarItems(t *testing.T) {
	t.Parallel()

	items := []Item{
		{Title: "Quote Miner", Status: "idea", EvidencePages: []int{4, 2}, NamesDetected: []string{"QM"}, EvidenceQuotes: []string{"b"}},
		{Title: "Budget Tracker", Status: "built", EvidencePages: []int{9}},
		{Title: "quote-miner", Status: "prototype", EvidencePages: []int{2, 1}, NamesDetected: []string{"Miner"}, EvidenceQuotes: []string{"a", "b"}},
		{Title: "", Status: "unknown"},
		{Title: "  ", Status: "unknown"},
	}
	got := MergeSimilarItems(items, DefaultMergeThreshold)
	require.Len(t, got, 4)

	assert.Equal(t, "Quote Miner", got[0].Title)
	assert.Equal(t, "idea", got[0].Status)
	assert.Equal(t, []int{1, 2, 4}, got[0].EvidencePages)
	assert.Equal(t, []string{"Miner", "QM"}, got[0].NamesDetected)
	assert.Equal(t, []string{"a", "b"}, got[0].EvidenceQuotes)
	assert.Equal(t, "Budget Tracker", got[1].Title)
	assert.Equal(t, "", got[2].Title)
	assert.Equal(t, "  ", got[3].Title)
}
