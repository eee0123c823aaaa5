package stats

// costRates maps a model name to its per-million-token {input, output} cost
// in USD, trimmed to the models GitHub Copilot actually exposes through its
// chat-completions upstream.
var costRates = map[string][2]float64{
	"gpt-4o":            {2.5, 10.0},
	"gpt-4o-mini":       {0.15, 0.6},
	"gpt-4.1":           {2.0, 8.0},
	"o3":                {10.0, 40.0},
	"o4-mini":           {1.1, 4.4},
	"claude-3.5-sonnet": {3.0, 15.0},
	"claude-3.7-sonnet": {3.0, 15.0},
	"gemini-2.0-flash":  {0.1, 0.4},
}

// DefaultCostRate applies when a model is not in costRates.
var DefaultCostRate = [2]float64{2.0, 8.0}

// EstimateCost estimates the USD cost of a completed chat request from its
// reported usage token counts. It never changes request or response
// bodies — it exists purely to feed RecordCost.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	rates, ok := costRates[model]
	if !ok {
		rates = DefaultCostRate
	}
	return float64(inputTokens)/1_000_000*rates[0] + float64(outputTokens)/1_000_000*rates[1]
}
