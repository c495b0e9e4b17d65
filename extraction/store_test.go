package extraction

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteWriter_AppendAndLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", QuoteStoreFile)
	w, err := OpenQuoteWriter(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(Quote{PageStart: 1, PageEnd: 1, Category: "c", Quote: "a <b> & c"}))
	require.NoError(t, w.Append(Quote{PageStart: 2, PageEnd: 3, Category: "c", Tags: []string{"t"}, Quote: "second"}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"page_start":1,"page_end":1,"category":"c","tags":[],"quote":"a <b> & c"}`, lines[0])

	got, err := LoadQuotes(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"t"}, got[1].Tags)
}

func TestOpenQuoteWriter_AppendModeKeepsContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), QuoteStoreFile)
	w, err := OpenQuoteWriter(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Append(Quote{Quote: "one"}))
	require.NoError(t, w.Close())

	w, err = OpenQuoteWriter(path, true)
	require.NoError(t, err)
	require.NoError(t, w.Append(Quote{Quote: "two"}))
	require.NoError(t, w.Close())

	got, err := LoadQuotes(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	w, err = OpenQuoteWriter(path, false)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	got, err = LoadQuotes(path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadQuotes_SkipsBadLinesAndMissingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	got, err := LoadQuotes(filepath.Join(dir, "absent.jsonl"))
	require.NoError(t, err)
	assert.Nil(t, got)

	path := filepath.Join(dir, QuoteStoreFile)
	require.NoError(t, os.WriteFile(path, []byte("{\"quote\":\"ok\"}\n\nnot json\n{\"quote\":\"also\"}\n"), 0o644))
	got, err = LoadQuotes(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "also", got[1].Quote)
}

func TestRewriteQuotes_ReplacesStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), QuoteStoreFile)
	require.NoError(t, os.WriteFile(path, []byte("{\"quote\":\"old\"}\n"), 0o644))
	require.NoError(t, RewriteQuotes(path, quotesOf("new one", "new two")))

	got, err := LoadQuotes(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new one", got[0].Quote)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestQuoteSink_DropsExactDuplicatesAcrossChunks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), QuoteStoreFile)
	w, err := OpenQuoteWriter(path, false)
	require.NoError(t, err)
	sink := NewQuoteSink(w)

	ok, err := sink.Accept(Quote{PageStart: 1, PageEnd: 1, Quote: "Ship It  Now"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = sink.Accept(Quote{PageStart: 9, PageEnd: 9, Quote: "ship it\nnow"})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = sink.Accept(Quote{Quote: "   "})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, w.Close())

	got, err := LoadQuotes(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].PageStart)
	assert.Equal(t, 1, sink.Len())
}

func TestQuoteSink_Seed(t *testing.T) {
	t.Parallel()

	w, err := OpenQuoteWriter(filepath.Join(t.TempDir(), QuoteStoreFile), false)
	require.NoError(t, err)
	defer w.Close()
	sink := NewQuoteSink(w)
	sink.Seed(quotesOf("already stored"))

	ok, err := sink.Accept(Quote{Quote: "Already STORED"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuoteSink_ConcurrentAccept(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), QuoteStoreFile)
	w, err := OpenQuoteWriter(path, false)
	require.NoError(t, err)
	sink := NewQuoteSink(w)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := sink.Accept(Quote{Quote: "quote " + strings.Repeat("x", i)})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())

	got, err := LoadQuotes(path)
	require.NoError(t, err)
	assert.Len(t, got, 50)
	assert.Equal(t, 50, sink.Len())
}
