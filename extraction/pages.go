package extraction

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// LoadOptions controls how input files become pages.
type LoadOptions struct {
	// PageChars is the pseudo-page length in characters (defaults to DefaultPageChars).
	PageChars int

	Conversations ConversationOptions

	Logger *zap.Logger
}

// LoadPages turns a file or a directory of conversation exports into an ordered page
// sequence with 1-based indices that are global across all inputs.
//
// Directories contribute every *.json file, sorted by name. Single files are routed by
// extension: .json (conversation export), .pdf (one page per physical page), .docx,
// .md/.markdown, .html/.htm and .txt (flattened text cut into pseudo-pages).
//
// A source with no pages at all yields ErrEmptyInput.
func LoadPages(ctx context.Context, path string, opts LoadOptions) ([]Page, error) {
	if ctx == nil {
		return nil, eris.New("LoadPages: ctx is nil")
	}
	if path == "" {
		return nil, eris.New("LoadPages: path is empty")
	}
	if opts.PageChars <= 0 {
		opts.PageChars = DefaultPageChars
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "LoadPages: stat %s", path)
	}

	var files []string
	if st.IsDir() {
		matches, err := filepath.Glob(filepath.Join(path, "*.json"))
		if err != nil {
			return nil, eris.Wrap(err, "LoadPages: glob")
		}
		sort.Strings(matches)
		files = matches
	} else {
		files = []string{path}
	}

	var pages []Page
	add := func(title string, texts []string) {
		for _, t := range texts {
			pages = append(pages, Page{Index: len(pages) + 1, Text: t, ConversationTitle: title})
		}
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		before := len(pages)
		if err := loadFile(ctx, f, opts, add); err != nil {
			return nil, err
		}
		log.Debug("loaded input", zap.String("file", f), zap.Int("pages", len(pages)-before))
	}

	if len(pages) == 0 {
		return nil, eris.Wrapf(ErrEmptyInput, "LoadPages: no pages found in %s", path)
	}
	return pages, nil
}

func loadFile(ctx context.Context, path string, opts LoadOptions, add func(title string, texts []string)) error {
	base := filepath.Base(path)
	title := strings.TrimSuffix(base, filepath.Ext(base))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		f, err := os.Open(path)
		if err != nil {
			return eris.Wrapf(err, "LoadPages: open %s", path)
		}
		defer f.Close()

		position := 0
		err = streamConversations(ctx, f, opts.Conversations, func(raw json.RawMessage) error {
			position++
			text, convTitle, ok := ConversationText(raw, position, opts.Conversations.Roles)
			if ok {
				add(convTitle, SplitPseudoPages(text, opts.PageChars))
			}
			return nil
		})
		if err != nil {
			return eris.Wrapf(err, "LoadPages: read %s", path)
		}
		return nil

	case ".pdf":
		texts, err := pdfPageTexts(path)
		if err != nil {
			return err
		}
		add(title, texts)
		return nil

	case ".docx":
		s, err := docxText(path)
		if err != nil {
			return err
		}
		add(title, SplitPseudoPages(s, opts.PageChars))
		return nil

	case ".md", ".markdown", ".html", ".htm", ".txt":
		b, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "LoadPages: read %s", path)
		}
		s := string(b)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".markdown":
			s = markdownText(b)
		case ".html", ".htm":
			if s, err = htmlText(b); err != nil {
				return err
			}
		}
		add(title, SplitPseudoPages(s, opts.PageChars))
		return nil
	}
	return eris.Errorf("LoadPages: unsupported input type %q", filepath.Ext(path))
}
