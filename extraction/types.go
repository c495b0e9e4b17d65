package extraction

import "errors"

var (
	// ErrEmptyInput is returned when a source yields no pages, or a store yields no quotes.
	ErrEmptyInput = errors.New("empty input")

	// ErrMissingCredential is returned when no API key is configured for the extraction service.
	ErrMissingCredential = errors.New("missing credential")
)

// Page is one citation unit: a real document page or a fixed-size slice of conversation text.
type Page struct {
	Index             int    `json:"index"`
	Text              string `json:"text"`
	ConversationTitle string `json:"conversation_title"`
}

// Chunk is a budget-bounded run of consecutive pages sent as one extraction request.
// PageStart and PageEnd are inclusive.
type Chunk struct {
	PageStart int    `json:"page_start"`
	PageEnd   int    `json:"page_end"`
	Text      string `json:"text"`
}

// Quote is a single extracted quotation. Tags[0] is the lead tag.
type Quote struct {
	PageStart int      `json:"page_start" jsonschema:"required"`
	PageEnd   int      `json:"page_end" jsonschema:"required"`
	Category  string   `json:"category" jsonschema:"required"`
	Tags      []string `json:"tags" jsonschema:"required"`
	Quote     string   `json:"quote" jsonschema:"required"`
}

// LeadTag returns the first tag, or "untagged".
func (q Quote) LeadTag() string {
	if len(q.Tags) == 0 || q.Tags[0] == "" {
		return untagged
	}
	return q.Tags[0]
}

// QuoteEnvelope is the object the extraction service is asked to return for a chunk.
type QuoteEnvelope struct {
	Quotes []Quote `json:"quotes" jsonschema:"required"`
}

// Item is a reconstructed app/tool inferred from a set of quotes.
type Item struct {
	Title          string   `json:"title" jsonschema:"required"`
	Summary        string   `json:"summary" jsonschema:"required"`
	Status         string   `json:"status" jsonschema:"required,enum=idea,enum=prototype,enum=partial,enum=built,enum=unknown"`
	EvidencePages  []int    `json:"evidence_pages" jsonschema:"required"`
	NamesDetected  []string `json:"names_detected" jsonschema:"required"`
	EvidenceQuotes []string `json:"evidence_quotes" jsonschema:"required"`
}

// ItemEnvelope is the object the extraction service is asked to return for item reconstruction.
type ItemEnvelope struct {
	Apps []Item `json:"apps" jsonschema:"required"`
}
