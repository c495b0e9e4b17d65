package extraction

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
)

// ParseStatus says how much of an extraction reply could be decoded.
type ParseStatus int

const (
	// Unparseable: neither the whole reply nor any single line decoded.
	Unparseable ParseStatus = iota
	// Parsed: the reply was one object with a quotes array and every element validated.
	Parsed
	// PartiallyParsed: some records were recovered, but elements were dropped or the
	// line-scan fallback was needed.
	PartiallyParsed
)

func (s ParseStatus) String() string {
	switch s {
	case Parsed:
		return "parsed"
	case PartiallyParsed:
		return "partially_parsed"
	}
	return "unparseable"
}

// ParseResult is the outcome of ParseResponse.
type ParseResult struct {
	Status     ParseStatus
	Candidates []Quote

	// Dropped counts elements that were found but failed schema validation.
	Dropped int
}

// ParseResponse decodes a reply into candidate quotes.
//
// The whole reply (optionally inside a code fence) is first decoded as {"quotes":[...]},
// validating each element on its own. If that fails to decode or yields no valid
// element, every line that looks like a single {...} object is validated instead.
func ParseResponse(reply string) ParseResult {
	var (
		res        ParseResult
		envelopeOK bool
	)

	if items, ok := decodeEnvelope(fileutils.StripCodeFence(reply)); ok {
		envelopeOK = true
		for _, raw := range items {
			q, ok := decodeQuote(raw)
			if !ok {
				res.Dropped++
				continue
			}
			res.Candidates = append(res.Candidates, q)
		}
		if len(res.Candidates) > 0 {
			res.Status = Parsed
			if res.Dropped > 0 {
				res.Status = PartiallyParsed
			}
			return res
		}
	}

	var recovered []Quote
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		if q, ok := decodeQuote(json.RawMessage(line)); ok {
			recovered = append(recovered, q)
		}
	}
	if len(recovered) > 0 {
		return ParseResult{Status: PartiallyParsed, Candidates: recovered, Dropped: res.Dropped}
	}

	switch {
	case envelopeOK && res.Dropped == 0:
		res.Status = Parsed
	case envelopeOK:
		res.Status = PartiallyParsed
	default:
		res.Status = Unparseable
	}
	return res
}

func decodeEnvelope(body string) ([]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, false
	}
	raw, ok := obj["quotes"]
	if !ok {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

// decodeQuote validates one record: every field present, non-null and of the right type.
func decodeQuote(raw json.RawMessage) (Quote, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Quote{}, false
	}

	var q Quote
	var ok bool
	if q.PageStart, ok = intField(fields, "page_start"); !ok {
		return Quote{}, false
	}
	if q.PageEnd, ok = intField(fields, "page_end"); !ok {
		return Quote{}, false
	}
	if q.Category, ok = strField(fields, "category"); !ok {
		return Quote{}, false
	}
	if q.Quote, ok = strField(fields, "quote"); !ok {
		return Quote{}, false
	}

	tags, present := fields["tags"]
	if !present || isNull(tags) {
		return Quote{}, false
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(tags, &raws); err != nil {
		return Quote{}, false
	}
	q.Tags = make([]string, 0, len(raws))
	for _, r := range raws {
		var s string
		if isNull(r) || json.Unmarshal(r, &s) != nil {
			return Quote{}, false
		}
		q.Tags = append(q.Tags, s)
	}
	return q, true
}

func intField(fields map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func strField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
