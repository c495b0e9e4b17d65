package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idea × app", GroupKey("idea", []string{"app", "x"}))
	assert.Equal(t, "untagged × untagged", GroupKey("", nil))
	assert.Equal(t, "idea × untagged", GroupKey("idea", []string{""}))
}

func TestGroupQuotes_FirstAppearanceOrder(t *testing.T) {
	t.Parallel()

	quotes := []Quote{
		{Category: "b", Tags: []string{"t"}, Quote: "1"},
		{Category: "a", Tags: []string{"t"}, Quote: "2"},
		{Category: "b", Tags: []string{"t", "z"}, Quote: "3"},
		{Category: "", Quote: "4"},
	}
	groups := GroupQuotes(quotes)
	require.Len(t, groups, 3)
	assert.Equal(t, "b × t", groups[0].Key)
	assert.Equal(t, "a × t", groups[1].Key)
	assert.Equal(t, "untagged × untagged", groups[2].Key)

	require.Len(t, groups[0].Quotes, 2)
	assert.Equal(t, "1", groups[0].Quotes[0].Quote)
	assert.Equal(t, "3", groups[0].Quotes[1].Quote)

	total := 0
	for _, g := range groups {
		total += len(g.Quotes)
	}
	assert.Equal(t, len(quotes), total)
	assert.Equal(t, groups, GroupQuotes(quotes))
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idea-app", Slugify("idea × app"))
	assert.Equal(t, "a-b-c", Slugify("--A  b__C!!"))
	assert.Equal(t, "untagged", Slugify("×××"))
}

func TestGroupSlugs_Disambiguates(t *testing.T) {
	t.Parallel()

	groups := []Group{{Key: "A × b"}, {Key: "a × B"}, {Key: "c × d"}, {Key: "a-b"}}
	assert.Equal(t, []string{"a-b", "a-b-2", "c-d", "a-b-3"}, GroupSlugs(groups))
}

func TestBuildInputBlock(t *testing.T) {
	t.Parallel()

	got := BuildInputBlock([]Quote{
		{PageStart: 1, PageEnd: 2, Quote: "  first  "},
		{PageStart: 3, PageEnd: 3, Quote: "   "},
		{PageStart: 4, PageEnd: 5, Quote: "second"},
	})
	assert.Equal(t, "[p.1-2] \nfirst\n\n[p.4-5] \nsecond", got)
}

func TestQuote_LeadTag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "x", Quote{Tags: []string{"x", "y"}}.LeadTag())
	assert.Equal(t, "untagged", Quote{}.LeadTag())
}
