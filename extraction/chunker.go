package extraction

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// DefaultChunkChars is the character budget of one extraction request.
const DefaultChunkChars = 9000

// PackChunks packs consecutive pages into chunks of roughly budget characters.
//
// Each page is appended with an inline "[p.N]" marker. A chunk is closed before a page
// when adding that page's text would exceed the budget and the chunk is non-empty, so a
// single oversized page still forms a chunk of its own. Every page lands in exactly one
// chunk and ranges are contiguous and increasing.
func PackChunks(pages []Page, budget int) ([]Chunk, error) {
	if budget <= 0 {
		return nil, eris.New("PackChunks: budget must be > 0")
	}
	if len(pages) == 0 {
		return nil, nil
	}

	var (
		chunks  []Chunk
		buf     strings.Builder
		bufLen  int
		start   = pages[0].Index
		prevIdx = pages[0].Index
	)
	for _, p := range pages {
		textLen := utf8.RuneCountInString(p.Text)
		if bufLen > 0 && bufLen+textLen > budget {
			chunks = append(chunks, Chunk{PageStart: start, PageEnd: prevIdx, Text: buf.String()})
			buf.Reset()
			bufLen = 0
			start = p.Index
		}
		marker := "\n\n[p." + strconv.Itoa(p.Index) + "]\n"
		buf.WriteString(marker)
		buf.WriteString(p.Text)
		bufLen += utf8.RuneCountInString(marker) + textLen
		prevIdx = p.Index
	}
	if bufLen > 0 {
		chunks = append(chunks, Chunk{PageStart: start, PageEnd: prevIdx, Text: buf.String()})
	}
	return chunks, nil
}
