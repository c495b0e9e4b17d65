package extraction

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
)

// QuoteStoreFile is the store's file name inside an output directory.
const QuoteStoreFile = "scan_quotes.jsonl"

// QuoteWriter appends quotes to a newline-delimited JSON store, one object per line.
type QuoteWriter struct {
	f *os.File
}

// OpenQuoteWriter opens the store for writing. With appendMode the existing content is
// kept; otherwise the file is truncated.
func OpenQuoteWriter(path string, appendMode bool) (*QuoteWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "OpenQuoteWriter: mkdir")
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "OpenQuoteWriter: open %s", path)
	}
	return &QuoteWriter{f: f}, nil
}

// Append writes one quote as a single line in one write call.
func (w *QuoteWriter) Append(q Quote) error {
	line, err := marshalQuoteLine(q)
	if err != nil {
		return err
	}
	if _, err := w.f.Write(line); err != nil {
		return eris.Wrap(err, "QuoteWriter.Append: write")
	}
	return nil
}

// Close closes the store file. Closing twice is a no-op.
func (w *QuoteWriter) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func marshalQuoteLine(q Quote) ([]byte, error) {
	if q.Tags == nil {
		q.Tags = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(q); err != nil {
		return nil, eris.Wrap(err, "marshal quote")
	}
	return buf.Bytes(), nil
}

// LoadQuotes reads a store. Blank and undecodable lines are skipped. A missing file is
// an empty store.
func LoadQuotes(path string) ([]Quote, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "LoadQuotes: open %s", path)
	}
	defer f.Close()

	var out []Quote
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var q Quote
		if err := json.Unmarshal(line, &q); err != nil {
			continue
		}
		out = append(out, q)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "LoadQuotes: scan %s", path)
	}
	return out, nil
}

// RewriteQuotes replaces the whole store atomically.
func RewriteQuotes(path string, quotes []Quote) error {
	err := fileutils.WriteAtomic(path, 0o644, func(f *os.File) error {
		w := bufio.NewWriter(f)
		for _, q := range quotes {
			line, err := marshalQuoteLine(q)
			if err != nil {
				return err
			}
			if _, err := w.Write(line); err != nil {
				return err
			}
		}
		return w.Flush()
	})
	if err != nil {
		return eris.Wrapf(err, "RewriteQuotes: %s", path)
	}
	return nil
}

// QuoteSink admits quotes into the store at most once per dedup key for the whole run.
// Key admission and the store append happen under one lock: a key is committed only
// after its line is written.
type QuoteSink struct {
	mu   sync.Mutex
	seen map[string]struct{}
	w    *QuoteWriter
}

func NewQuoteSink(w *QuoteWriter) *QuoteSink {
	return &QuoteSink{seen: make(map[string]struct{}), w: w}
}

// Seed marks existing quotes as seen without writing them.
func (s *QuoteSink) Seed(quotes []Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range quotes {
		if k := DedupKey(q.Quote); k != "" {
			s.seen[k] = struct{}{}
		}
	}
}

// Accept writes q unless its key was already admitted. written is false for duplicates.
func (s *QuoteSink) Accept(q Quote) (written bool, err error) {
	key := DedupKey(q.Quote)
	if key == "" {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	if err := s.w.Append(q); err != nil {
		return false, err
	}
	s.seen[key] = struct{}{}
	return true, nil
}

// Len returns the number of admitted keys.
func (s *QuoteSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
