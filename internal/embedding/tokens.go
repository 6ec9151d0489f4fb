package embedding

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenBudget truncates text to a model's input token limit.
type TokenBudget struct {
	codec     tokenizer.Codec
	maxTokens int
}

// NewTokenBudget creates a budget using the cl100k_base encoding shared by
// OpenAI embedding models.
func NewTokenBudget(maxTokens int) (*TokenBudget, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &TokenBudget{codec: codec, maxTokens: maxTokens}, nil
}

// Count returns the number of tokens in text, or 0 if it cannot be encoded.
func (b *TokenBudget) Count(text string) int {
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

// Truncate returns text cut to at most maxTokens tokens. Text that cannot be
// tokenized is returned unchanged.
func (b *TokenBudget) Truncate(text string) string {
	if b == nil || b.maxTokens <= 0 {
		return text
	}
	ids, _, err := b.codec.Encode(text)
	if err != nil || len(ids) <= b.maxTokens {
		return text
	}
	out, err := b.codec.Decode(ids[:b.maxTokens])
	if err != nil {
		return text
	}
	return out
}
