package extraction

import "strings"

// VerifyResult splits candidates into quotes found verbatim in the chunk and the rest.
type VerifyResult struct {
	Verified []Quote
	Rejected int
}

// Verify keeps the candidates whose normalized quote is non-empty and occurs literally in
// the chunk's normalized text. Accepted quotes have their page range clamped into the
// chunk's range. Candidate order is preserved.
func Verify(chunk Chunk, candidates []Quote) VerifyResult {
	var res VerifyResult
	if len(candidates) == 0 {
		return res
	}
	normChunk := NormalizeText(chunk.Text)
	for _, c := range candidates {
		qn := NormalizeText(c.Quote)
		if qn == "" || !strings.Contains(normChunk, qn) {
			res.Rejected++
			continue
		}
		c.PageStart, c.PageEnd = ClampPages(chunk, c.PageStart, c.PageEnd)
		res.Verified = append(res.Verified, c)
	}
	return res
}

// ClampPages returns max(chunk start, start) and min(chunk end, end), each held inside the
// chunk range. A reversed result is swapped so start <= end always holds.
func ClampPages(chunk Chunk, start, end int) (int, int) {
	s := clampInt(max(chunk.PageStart, start), chunk.PageStart, chunk.PageEnd)
	e := clampInt(min(chunk.PageEnd, end), chunk.PageStart, chunk.PageEnd)
	if s > e {
		s, e = e, s
	}
	return s, e
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
