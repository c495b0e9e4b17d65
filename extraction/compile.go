package extraction

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
)

// Sections is a compile reply split into its two parts.
type Sections struct {
	Compilations string
	Snippets     string
}

var (
	// The opening fence may carry an info string (```markdown); it is not content.
	compFenced    = regexp.MustCompile(`(?is)\bCOMPILATIONS\b.*?` + "```" + `[^\n]*\n(.*?)` + "```")
	snipFenced    = regexp.MustCompile(`(?is)\bSNIPPETS\b.*?` + "```" + `[^\n]*\n(.*?)` + "```")
	snipHeader    = regexp.MustCompile(`(?im)^\s*SNIPPETS\s*$`)
	compHeaderRow = regexp.MustCompile(`(?im)^\s*COMPILATIONS\s*`)
)

// SplitSections pulls the COMPILATIONS and SNIPPETS sections out of a reply. Fenced
// blocks after each label win; otherwise the text is split at a bare SNIPPETS line.
func SplitSections(text string) Sections {
	var s Sections
	if m := compFenced.FindStringSubmatch(text); m != nil {
		s.Compilations = strings.TrimSpace(m[1])
	}
	if m := snipFenced.FindStringSubmatch(text); m != nil {
		s.Snippets = strings.TrimSpace(m[1])
	}
	if s.Compilations == "" || s.Snippets == "" {
		parts := snipHeader.Split(text, 2)
		if len(parts) == 2 {
			if s.Compilations == "" {
				s.Compilations = strings.TrimSpace(compHeaderRow.ReplaceAllString(parts[0], ""))
			}
			if s.Snippets == "" {
				s.Snippets = strings.TrimSpace(parts[1])
			}
		}
	}
	return s
}

// CompileOptions controls CompileGroups.
type CompileOptions struct {
	// OutputDir receives compilations/, snippets/ and INDEX.md.
	OutputDir string

	// Instructions defaults to CompileInstructions.
	Instructions string

	// CallTimeout bounds each call (defaults to DefaultCallTimeout).
	CallTimeout time.Duration

	Logger *zap.Logger
}

// CompileResult lists what CompileGroups wrote.
type CompileResult struct {
	Written []string
	Failed  []string
}

// CompileGroups sends each group's quote block to the service and writes the
// COMPILATIONS and SNIPPETS sections to per-group Markdown files named by slug, plus an
// INDEX.md. A group whose call fails is logged and left out of the index.
func CompileGroups(ctx context.Context, ex Extractor, groups []Group, opts CompileOptions) (CompileResult, error) {
	if ctx == nil {
		return CompileResult{}, eris.New("CompileGroups: ctx is nil")
	}
	if ex == nil {
		return CompileResult{}, eris.New("CompileGroups: extractor is nil")
	}
	if opts.OutputDir == "" {
		return CompileResult{}, eris.New("CompileGroups: opts.OutputDir is empty")
	}
	if len(groups) == 0 {
		return CompileResult{}, eris.Wrap(ErrEmptyInput, "CompileGroups: no groups")
	}
	if opts.Instructions == "" {
		opts.Instructions = CompileInstructions
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	compDir := filepath.Join(opts.OutputDir, "compilations")
	snipDir := filepath.Join(opts.OutputDir, "snippets")
	for _, d := range []string{compDir, snipDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return CompileResult{}, eris.Wrapf(err, "CompileGroups: mkdir %s", d)
		}
	}

	var res CompileResult
	index := []string{"# Quote Bundles", ""}
	slugs := GroupSlugs(groups)
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		slug := slugs[i]

		callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
		reply, err := ex.Extract(callCtx, ExtractionRequest{
			Instructions: opts.Instructions,
			InputText:    BuildInputBlock(g.Quotes),
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn("compile group failed", zap.String("group", g.Key), zap.Error(err))
			res.Failed = append(res.Failed, g.Key)
			continue
		}

		sec := SplitSections(reply)
		if err := fileutils.WriteFileAtomicSameDir(filepath.Join(compDir, slug+".md"), []byte(sec.Compilations+"\n"), 0o644); err != nil {
			return res, eris.Wrapf(err, "CompileGroups: write compilations for %q", g.Key)
		}
		if err := fileutils.WriteFileAtomicSameDir(filepath.Join(snipDir, slug+".md"), []byte(sec.Snippets+"\n"), 0o644); err != nil {
			return res, eris.Wrapf(err, "CompileGroups: write snippets for %q", g.Key)
		}
		index = append(index, "- **"+g.Key+"** → [compilations/"+slug+".md](compilations/"+slug+".md), [snippets/"+slug+".md](snippets/"+slug+".md)")
		res.Written = append(res.Written, g.Key)
		log.Info("compiled group", zap.String("group", g.Key), zap.String("slug", slug), zap.Int("quotes", len(g.Quotes)))
	}

	indexPath := filepath.Join(opts.OutputDir, "INDEX.md")
	if err := fileutils.WriteFileAtomicSameDir(indexPath, []byte(strings.Join(index, "\n")+"\n"), 0o644); err != nil {
		return res, eris.Wrap(err, "CompileGroups: write index")
	}
	return res, nil
}
