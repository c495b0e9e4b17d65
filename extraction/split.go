package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
)

// SplitOptions controls SplitExport.
type SplitOptions struct {
	// ArrayField is passed to the export reader; see ConversationOptions.
	ArrayField string

	// Overwrite replaces existing output files instead of failing.
	Overwrite bool

	// Pretty indents each output file.
	Pretty bool
}

// SplitResult reports what SplitExport wrote.
type SplitResult struct {
	Conversations int
	Bytes         int64
}

// SplitExport streams a conversations export and writes each conversation to its own
// one-element export file in outputDir. Files are named "NNNNNN-<id>.json" by export
// position, so loading outputDir as a directory yields the same conversations, in the
// same order, with the same placeholder titles as loading the original export.
func SplitExport(ctx context.Context, inputPath, outputDir string, opts SplitOptions) (SplitResult, error) {
	if ctx == nil {
		return SplitResult{}, eris.New("SplitExport: ctx is nil")
	}
	if inputPath == "" {
		return SplitResult{}, eris.New("SplitExport: inputPath is empty")
	}
	if outputDir == "" {
		return SplitResult{}, eris.New("SplitExport: outputDir is empty")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return SplitResult{}, eris.Wrap(err, "SplitExport: mkdir outputDir")
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return SplitResult{}, eris.Wrap(err, "SplitExport: open input")
	}
	defer f.Close()

	var res SplitResult
	position := 0
	err = streamConversations(ctx, f, ConversationOptions{ArrayField: opts.ArrayField}, func(raw json.RawMessage) error {
		position++
		body, id, err := standaloneConversation(raw, position)
		if err != nil {
			return eris.Wrapf(err, "SplitExport: conversation %d", position)
		}
		if opts.Pretty {
			var buf bytes.Buffer
			if err := json.Indent(&buf, body, "", "  "); err != nil {
				return eris.Wrapf(err, "SplitExport: indent conversation %d", position)
			}
			body = buf.Bytes()
		}

		name := fmt.Sprintf("%06d-%s.json", position, id)
		outPath := filepath.Join(outputDir, name)
		if !opts.Overwrite {
			if _, err := os.Stat(outPath); err == nil {
				return eris.Errorf("SplitExport: output file already exists: %s", outPath)
			} else if !errors.Is(err, fs.ErrNotExist) {
				return eris.Wrap(err, "SplitExport: stat output file")
			}
		}
		data := append(append(append([]byte("["), body...), ']'), '\n')
		if err := fileutils.WriteFileAtomicSameDir(outPath, data, 0o644); err != nil {
			return eris.Wrapf(err, "SplitExport: write %s", name)
		}
		res.Conversations++
		res.Bytes += int64(len(data))
		return nil
	})
	if err != nil {
		return res, err
	}
	if res.Conversations == 0 {
		return res, eris.Wrapf(ErrEmptyInput, "SplitExport: no conversations in %s", inputPath)
	}
	return res, nil
}

// standaloneConversation returns raw with its placeholder title made explicit, plus a
// file-name-safe identifier. Untitled conversations are named by their export position,
// which a one-element file could not recover.
func standaloneConversation(raw json.RawMessage, position int) ([]byte, string, error) {
	var conv map[string]json.RawMessage
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, "", eris.Wrap(err, "conversation is not a JSON object")
	}

	id := sanitizeFileComponent(stringField(conv, "conversation_id"))
	if id == "" {
		id = sanitizeFileComponent(stringField(conv, "id"))
	}
	if id == "" {
		id = "conversation"
	}

	if stringField(conv, "title") != "" {
		return raw, id, nil
	}
	title, err := json.Marshal(fmt.Sprintf("Conversation %d", position))
	if err != nil {
		return nil, "", err
	}
	conv["title"] = title
	b, err := json.Marshal(conv)
	if err != nil {
		return nil, "", eris.Wrap(err, "re-encode conversation")
	}
	return b, id, nil
}

func sanitizeFileComponent(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
