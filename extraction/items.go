package extraction

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
)

var itemStatuses = map[string]bool{"idea": true, "prototype": true, "partial": true, "built": true, "unknown": true}

// BuildEvidence renders quotes as "[p.S-E] quote" lines separated by blank lines.
func BuildEvidence(quotes []Quote) string {
	lines := make([]string, 0, len(quotes))
	for _, q := range quotes {
		lines = append(lines, "[p."+strconv.Itoa(q.PageStart)+"-"+strconv.Itoa(q.PageEnd)+"] "+q.Quote)
	}
	return strings.Join(lines, "\n\n")
}

// RenderItemsMarkdown is the human-readable companion of the items JSON: one section per
// item with its status, evidence pages, summary, detected names and evidence quotes.
func RenderItemsMarkdown(items []Item) string {
	var b strings.Builder
	b.WriteString("# Apps & Tools Reconstruction\n")
	for _, it := range items {
		pages := make([]string, 0, len(it.EvidencePages))
		for _, p := range it.EvidencePages {
			pages = append(pages, strconv.Itoa(p))
		}
		b.WriteString("\n## " + it.Title + "\n")
		b.WriteString("**Status:** " + it.Status + "\n")
		b.WriteString("**Pages:** " + strings.Join(pages, ", ") + "\n")
		b.WriteString("**Summary:** " + it.Summary + "\n")
		if len(it.NamesDetected) > 0 {
			b.WriteString("**Names detected:** " + strings.Join(it.NamesDetected, ", ") + "\n")
		}
		if len(it.EvidenceQuotes) > 0 {
			b.WriteString("**Evidence quotes:**\n")
			for _, q := range it.EvidenceQuotes {
				b.WriteString("- " + q + "\n")
			}
		}
	}
	return b.String()
}

// ItemsOptions controls ReconstructItems.
type ItemsOptions struct {
	// Instructions defaults to ItemsInstructions.
	Instructions string

	// MergeThreshold defaults to DefaultMergeThreshold.
	MergeThreshold float64

	// CallTimeout bounds the call (defaults to DefaultCallTimeout).
	CallTimeout time.Duration
}

// ReconstructItems asks the service for the apps/tools evidenced by quotes, then merges
// items with near-identical titles.
func ReconstructItems(ctx context.Context, ex Extractor, quotes []Quote, opts ItemsOptions) ([]Item, error) {
	if ctx == nil {
		return nil, eris.New("ReconstructItems: ctx is nil")
	}
	if ex == nil {
		return nil, eris.New("ReconstructItems: extractor is nil")
	}
	if len(quotes) == 0 {
		return nil, eris.Wrap(ErrEmptyInput, "ReconstructItems: no quotes")
	}
	if opts.Instructions == "" {
		opts.Instructions = ItemsInstructions
	}
	if opts.MergeThreshold <= 0 {
		opts.MergeThreshold = DefaultMergeThreshold
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()
	reply, err := ex.Extract(callCtx, ExtractionRequest{
		Instructions: opts.Instructions,
		InputText:    BuildEvidence(quotes),
	})
	if err != nil {
		return nil, eris.Wrap(err, "ReconstructItems: extract")
	}

	var env ItemEnvelope
	if err := fileutils.DecodeModelJSON(reply, &env); err != nil {
		return nil, eris.Wrap(err, "ReconstructItems: decode reply")
	}
	for i := range env.Apps {
		env.Apps[i].Status = strings.ToLower(strings.TrimSpace(env.Apps[i].Status))
		if !itemStatuses[env.Apps[i].Status] {
			env.Apps[i].Status = "unknown"
		}
	}
	return MergeSimilarItems(env.Apps, opts.MergeThreshold), nil
}
