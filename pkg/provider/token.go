package provider

import (
	"github.com/pkoukk/tiktoken-go"
)

// EstimateTokens returns the number of tokens in a string for a specific model.
// Used for the limiter's pessimistic pre-call check; the true count recorded
// afterwards always comes from the provider response, never from this estimate.
func EstimateTokens(model string, text string) (int64, error) {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fall back to the cl100k_base encoding for unknown models
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}

	tokenIds := tkm.Encode(text, nil, nil)
	return int64(len(tokenIds)), nil
}
