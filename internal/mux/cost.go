package mux

// streamPricePer1k estimates branch spend while a stream is in flight,
// before any real usage numbers exist. Values are blended USD per 1k
// tokens per backend.
var streamPricePer1k = map[string]float64{
	"ollama":    0,
	"openai":    0.03,
	"anthropic": 0.015,
	"google":    0.00125,
	"gemini":    0.00125,
	"azure":     0.03,
	"xai":       0,
	"bedrock":   0.015,
}

// defaultStreamPricePer1k covers providers missing from the table.
const defaultStreamPricePer1k = 0.02

// chunkCost estimates the spend for one chunk as price/1000 times the
// chunk's rough token count, never less than one token per chunk.
func chunkCost(providerID, text string) float64 {
	price, ok := streamPricePer1k[providerID]
	if !ok {
		price = defaultStreamPricePer1k
	}
	if price == 0 {
		return 0
	}
	tokens := float64(len(text)) / 4
	if tokens < 1 {
		tokens = 1
	}
	return price / 1000 * tokens
}
