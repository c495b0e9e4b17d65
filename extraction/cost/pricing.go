package cost

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ModelRate is USD per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input" json:"input"`
	Output float64 `yaml:"output" mapstructure:"output" json:"output"`
}

// Pricing maps a model identifier to its rates.
type Pricing map[string]ModelRate

// DefaultPricing returns the built-in rate table.
func DefaultPricing() Pricing {
	return Pricing{
		"gpt-5":       {Input: 1.25, Output: 10.00},
		"gpt-5-mini":  {Input: 0.25, Output: 2.00},
		"gpt-5-nano":  {Input: 0.05, Output: 0.40},
		"gpt-4o":      {Input: 2.50, Output: 10.00},
		"gpt-4o-mini": {Input: 0.60, Output: 2.40},
	}
}

// Rate looks up model.
func (p Pricing) Rate(model string) (ModelRate, bool) {
	r, ok := p[model]
	return r, ok
}

// With returns a copy of p with every entry of overrides applied on top.
func (p Pricing) With(overrides Pricing) Pricing {
	out := make(Pricing, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Models returns the priced model names, sorted.
func (p Pricing) Models() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LoadPricingFile reads a YAML map of model name to {input, output}.
func LoadPricingFile(path string) (Pricing, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "LoadPricingFile: read %s", path)
	}
	var p Pricing
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, eris.Wrapf(err, "LoadPricingFile: parse %s", path)
	}
	for model, r := range p {
		if r.Input < 0 || r.Output < 0 {
			return nil, eris.Errorf("LoadPricingFile: negative rate for %q", model)
		}
	}
	return p, nil
}
