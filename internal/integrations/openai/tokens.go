package openai

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// CountTokens returns the number of tokens text occupies for model. Unknown
// models fall back to cl100k_base.
func CountTokens(model, text string) (int, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return 0, fmt.Errorf("openai: load tokenizer: %w", err)
		}
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, fmt.Errorf("openai: encode tokens: %w", err)
	}
	return len(ids), nil
}
