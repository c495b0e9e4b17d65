package extraction

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/theimaginaryfoundation/quotemine/extraction/fileutils"
)

// PreviewChars is the length of the quote preview column.
const PreviewChars = 80

// IndexHeader is the column order of the tabular index.
var IndexHeader = []string{"page_start", "page_end", "category", "top_tag", "preview", "full_quote"}

// IndexRow is one tabular index row for a stored quote.
type IndexRow struct {
	PageStart int
	PageEnd   int
	Category  string
	TopTag    string
	Preview   string
	FullQuote string
}

// BuildIndexRecord creates the index row for one quote.
func BuildIndexRecord(q Quote) IndexRow {
	category := q.Category
	if category == "" {
		category = "unknown"
	}
	return IndexRow{
		PageStart: q.PageStart,
		PageEnd:   q.PageEnd,
		Category:  category,
		TopTag:    q.LeadTag(),
		Preview:   fileutils.Truncate(q.Quote, PreviewChars),
		FullQuote: q.Quote,
	}
}

func (r IndexRow) strings() []string {
	return []string{strconv.Itoa(r.PageStart), strconv.Itoa(r.PageEnd), r.Category, r.TopTag, r.Preview, r.FullQuote}
}

// WriteIndexCSV writes a header row followed by one row per quote.
func WriteIndexCSV(w io.Writer, quotes []Quote) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(IndexHeader); err != nil {
		return eris.Wrap(err, "WriteIndexCSV: header")
	}
	for _, q := range quotes {
		if err := cw.Write(BuildIndexRecord(q).strings()); err != nil {
			return eris.Wrap(err, "WriteIndexCSV: row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "WriteIndexCSV: flush")
	}
	return nil
}

// IndexWorkbook builds a one-sheet workbook ("quotes") with the same columns as the CSV.
// Page numbers are stored as numeric cells.
func IndexWorkbook(quotes []Quote) (*xlsx.File, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("quotes")
	if err != nil {
		return nil, eris.Wrap(err, "IndexWorkbook: add sheet")
	}
	header := sheet.AddRow()
	for _, h := range IndexHeader {
		header.AddCell().SetString(h)
	}
	for _, q := range quotes {
		r := BuildIndexRecord(q)
		row := sheet.AddRow()
		row.AddCell().SetInt(r.PageStart)
		row.AddCell().SetInt(r.PageEnd)
		row.AddCell().SetString(r.Category)
		row.AddCell().SetString(r.TopTag)
		row.AddCell().SetString(r.Preview)
		row.AddCell().SetString(r.FullQuote)
	}
	return f, nil
}
