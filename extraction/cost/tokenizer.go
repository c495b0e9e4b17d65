package cost

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encoding is the BPE encoding used for token estimates.
const Encoding = "cl100k_base"

// Tokenizer counts tokens in a request text.
type Tokenizer interface {
	CountTokens(text string) int
}

// HeuristicTokenizer estimates one token per four characters.
type HeuristicTokenizer struct{}

func (HeuristicTokenizer) CountTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t bpeTokenizer) CountTokens(text string) int {
	return len(t.enc.EncodeOrdinary(text))
}

var (
	loadOnce  sync.Once
	loadedBPE *tiktoken.Tiktoken
	loadErr   error
)

// NewTokenizer returns a cl100k_base tokenizer backed by the embedded offline BPE
// ranks. If the encoding cannot be loaded it returns HeuristicTokenizer and the error.
func NewTokenizer() (Tokenizer, error) {
	loadOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		loadedBPE, loadErr = tiktoken.GetEncoding(Encoding)
	})
	if loadErr != nil {
		return HeuristicTokenizer{}, loadErr
	}
	return bpeTokenizer{enc: loadedBPE}, nil
}
