package extraction

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIndexRecord_Defaults(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", 100)
	r := BuildIndexRecord(Quote{PageStart: 2, PageEnd: 3, Quote: long})
	assert.Equal(t, "unknown", r.Category)
	assert.Equal(t, "untagged", r.TopTag)
	assert.Equal(t, strings.Repeat("é", PreviewChars)+"...", r.Preview)
	assert.Equal(t, long, r.FullQuote)

	short := BuildIndexRecord(Quote{Category: "idea", Tags: []string{"app"}, Quote: "short"})
	assert.Equal(t, "short", short.Preview)
	assert.Equal(t, "app", short.TopTag)
}

func TestWriteIndexCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteIndexCSV(&buf, []Quote{
		{PageStart: 1, PageEnd: 2, Category: "idea", Tags: []string{"app"}, Quote: "has, comma and \"quotes\""},
	}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, IndexHeader, rows[0])
	assert.Equal(t, []string{"1", "2", "idea", "app", "has, comma and \"quotes\"", "has, comma and \"quotes\""}, rows[1])
}

func TestIndexWorkbook(t *testing.T) {
	t.Parallel()

	book, err := IndexWorkbook([]Quote{{PageStart: 4, PageEnd: 5, Category: "c", Tags: []string{"t"}, Quote: "q"}})
	require.NoError(t, err)
	sheet, ok := book.Sheet["quotes"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "page_start", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "4", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "q", sheet.Rows[1].Cells[5].String())
}
