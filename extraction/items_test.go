package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEvidence(t *testing.T) {
	t.Parallel()

	got := BuildEvidence([]Quote{{PageStart: 1, PageEnd: 2, Quote: "a"}, {PageStart: 5, PageEnd: 5, Quote: "b"}})
	assert.Equal(t, "[p.1-2] a\n\n[p.5-5] b", got)
}

func TestReconstructItems_DecodesNormalizesAndMerges(t *testing.T) {
	t.Parallel()

	reply := "Here you go:\n{\"apps\": [" +
		`{"title": "Quote Miner", "summary": "s", "status": "Prototype", "evidence_pages": [3], "names_detected": ["QM"], "evidence_quotes": ["q1"]},` +
		`{"title": "quote miner!", "summary": "s2", "status": "idea", "evidence_pages": [1, 3], "names_detected": [], "evidence_quotes": ["q2"]},` +
		`{"title": "Budget Bot", "summary": "b", "status": "shipped", "evidence_pages": [], "names_detected": [], "evidence_quotes": []}` +
		"]}\nThanks."

	var got ExtractionRequest
	ex := &fakeExtractor{reply: func(_ context.Context, req ExtractionRequest) (string, error) {
		got = req
		return reply, nil
	}}
	quotes := []Quote{{PageStart: 1, PageEnd: 1, Quote: "build quote miner"}, {PageStart: 3, PageEnd: 3, Quote: "budget bot"}}

	items, err := ReconstructItems(context.Background(), ex, quotes, ItemsOptions{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Quote Miner", items[0].Title)
	assert.Equal(t, "prototype", items[0].Status)
	assert.Equal(t, []int{1, 3}, items[0].EvidencePages)
	assert.Equal(t, []string{"q1", "q2"}, items[0].EvidenceQuotes)
	assert.Equal(t, "unknown", items[1].Status)

	assert.Equal(t, ItemsInstructions, got.Instructions)
	assert.Equal(t, "[p.1-1] build quote miner\n\n[p.3-3] budget bot", got.InputText)
}

func TestRenderItemsMarkdown(t *testing.T) {
	t.Parallel()

	md := RenderItemsMarkdown([]Item{
		{Title: "Quote Miner", Status: "prototype", EvidencePages: []int{1, 4}, Summary: "Finds quotes.", NamesDetected: []string{"qm"}, EvidenceQuotes: []string{"build a quote miner"}},
		{Title: "Fridge Sync", Status: "idea", EvidencePages: []int{7}, Summary: "Syncs the fridge."},
	})
	assert.Equal(t, "# Apps & Tools Reconstruction\n"+
		"\n## Quote Miner\n**Status:** prototype\n**Pages:** 1, 4\n**Summary:** Finds quotes.\n"+
		"**Names detected:** qm\n**Evidence quotes:**\n- build a quote miner\n"+
		"\n## Fridge Sync\n**Status:** idea\n**Pages:** 7\n**Summary:** Syncs the fridge.\n", md)
}

func TestReconstructItems_Errors(t *testing.T) {
	t.Parallel()

	ex := &fakeExtractor{reply: func(context.Context, ExtractionRequest) (string, error) { return "no json here", nil }}
	_, err := ReconstructItems(context.Background(), ex, []Quote{{Quote: "x"}}, ItemsOptions{})
	assert.Error(t, err)

	_, err = ReconstructItems(context.Background(), ex, nil, ItemsOptions{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}
