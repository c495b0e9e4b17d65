package cost

import (
	"github.com/rotisserie/eris"

	"github.com/theimaginaryfoundation/quotemine/extraction"
)

// OutputRatio is the assumed output size relative to input tokens.
const OutputRatio = 0.3

// QuotesHeader separates the prompt template from the quote block.
const QuotesHeader = "\n\nINPUT QUOTES:\n\n"

// Estimate is the token and price forecast for a set of requests. USD fields are nil
// when the model has no rate; token counts are always set.
type Estimate struct {
	InputTokens         int      `json:"input_tokens"`
	OutputTokens        int      `json:"output_tokens"`
	USDInput            *float64 `json:"usd_input"`
	USDOutput           *float64 `json:"usd_output"`
	USDTotal            *float64 `json:"usd_total"`
	USDPerMillionInput  *float64 `json:"usd_per_million_input"`
	USDPerMillionOutput *float64 `json:"usd_per_million_output"`
}

// Exceeds reports whether a known total is above maxUSD. maxUSD <= 0 means no ceiling.
func (e Estimate) Exceeds(maxUSD float64) bool {
	return maxUSD > 0 && e.USDTotal != nil && *e.USDTotal > maxUSD
}

// Estimator prices requests with a tokenizer and a rate table.
type Estimator struct {
	tok     Tokenizer
	pricing Pricing
}

func NewEstimator(tok Tokenizer, pricing Pricing) *Estimator {
	if tok == nil {
		tok = HeuristicTokenizer{}
	}
	if pricing == nil {
		pricing = DefaultPricing()
	}
	return &Estimator{tok: tok, pricing: pricing}
}

// EstimateTexts counts each request text separately; output tokens are OutputRatio of
// each request's input, rounded down, then summed.
func (e *Estimator) EstimateTexts(model string, texts []string) Estimate {
	var in, out int
	for _, t := range texts {
		n := e.tok.CountTokens(t)
		in += n
		out += int(float64(n) * OutputRatio)
	}
	return e.price(model, in, out)
}

// GroupPrompt is the full request text for one group.
func GroupPrompt(template string, quotes []extraction.Quote) string {
	return template + QuotesHeader + extraction.BuildInputBlock(quotes)
}

// EstimateGroups estimates one request per group.
func (e *Estimator) EstimateGroups(model string, groups []extraction.Group, template string) Estimate {
	texts := make([]string, 0, len(groups))
	for _, g := range groups {
		texts = append(texts, GroupPrompt(template, g.Quotes))
	}
	return e.EstimateTexts(model, texts)
}

// EstimateChunks estimates one extraction request per chunk.
func (e *Estimator) EstimateChunks(model string, chunks []extraction.Chunk, instructions string) Estimate {
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, extraction.ChunkInstructions(instructions, c)+"\n\n"+c.Text)
	}
	return e.EstimateTexts(model, texts)
}

// EstimateItems estimates the single item-reconstruction request.
func (e *Estimator) EstimateItems(model string, quotes []extraction.Quote, instructions string) Estimate {
	return e.EstimateTexts(model, []string{instructions + "\n\nEVIDENCE:\n\n" + extraction.BuildEvidence(quotes)})
}

func (e *Estimator) price(model string, in, out int) Estimate {
	est := Estimate{InputTokens: in, OutputTokens: out}
	r, ok := e.pricing.Rate(model)
	if !ok {
		return est
	}
	usdIn := float64(in) / 1e6 * r.Input
	usdOut := float64(out) / 1e6 * r.Output
	total := usdIn + usdOut
	rin, rout := r.Input, r.Output
	est.USDInput = &usdIn
	est.USDOutput = &usdOut
	est.USDTotal = &total
	est.USDPerMillionInput = &rin
	est.USDPerMillionOutput = &rout
	return est
}

// Breakdown repeats the headline numbers of an Estimate.
type Breakdown struct {
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	USDInput     *float64 `json:"usd_input"`
	USDOutput    *float64 `json:"usd_output"`
	USDTotal     *float64 `json:"usd_total"`
}

// GroupCost is one group's line in a Report.
type GroupCost struct {
	Name            string   `json:"name"`
	QuoteCount      int      `json:"quote_count"`
	EstimatedTokens int      `json:"estimated_tokens"`
	EstimatedCost   *float64 `json:"estimated_cost"`
}

// Report is the cost report for compiling a quote store.
type Report struct {
	Model         string      `json:"model"`
	TotalQuotes   int         `json:"total_quotes"`
	TotalGroups   int         `json:"total_groups"`
	Estimate      Estimate    `json:"estimate"`
	CostBreakdown Breakdown   `json:"cost_breakdown"`
	Groups        []GroupCost `json:"groups"`
}

// BuildReport groups quotes and estimates the compile cost in total and per group.
func (e *Estimator) BuildReport(model string, quotes []extraction.Quote, template string) (Report, error) {
	if len(quotes) == 0 {
		return Report{}, eris.Wrap(extraction.ErrEmptyInput, "BuildReport: no quotes")
	}
	groups := extraction.GroupQuotes(quotes)
	est := e.EstimateGroups(model, groups, template)

	rep := Report{
		Model:       model,
		TotalQuotes: len(quotes),
		TotalGroups: len(groups),
		Estimate:    est,
		CostBreakdown: Breakdown{
			InputTokens:  est.InputTokens,
			OutputTokens: est.OutputTokens,
			USDInput:     est.USDInput,
			USDOutput:    est.USDOutput,
			USDTotal:     est.USDTotal,
		},
		Groups: make([]GroupCost, 0, len(groups)),
	}
	for _, g := range groups {
		ge := e.EstimateGroups(model, []extraction.Group{g}, template)
		rep.Groups = append(rep.Groups, GroupCost{
			Name:            g.Key,
			QuoteCount:      len(g.Quotes),
			EstimatedTokens: ge.InputTokens + ge.OutputTokens,
			EstimatedCost:   ge.USDTotal,
		})
	}
	return rep, nil
}
