package aithena

// Per-token chat rates and flat image rates, in US dollars. These mirror
// OpenAI's published pricing at build time; unknown models fall back to a
// conservative default rather than failing, so a provider-side model
// rename can never block accounting.

const (
	// defaultChatInputRate is the fallback per-token cost for prompt
	// tokens of models missing from chatRates.
	defaultChatInputRate = 0.0030 / 1000

	// defaultChatOutputRate is the fallback per-token cost for completion
	// tokens of models missing from chatRates.
	defaultChatOutputRate = 0.0060 / 1000

	// defaultImageRate is the fallback flat per-image cost for
	// model/quality/size combinations missing from imageRates.
	defaultImageRate = 0.120
)

// chatRate holds the per-token input and output costs for one chat model.
type chatRate struct {
	input  float64
	output float64
}

var chatRates = map[string]chatRate{
	"gpt-3.5-turbo": {input: 0.0005 / 1000, output: 0.0015 / 1000},
	"gpt-4":         {input: 0.0300 / 1000, output: 0.0600 / 1000},
	"gpt-4-turbo":   {input: 0.0100 / 1000, output: 0.0300 / 1000},
	"gpt-4o":        {input: 0.0050 / 1000, output: 0.0150 / 1000},
	"gpt-4o-mini":   {input: 0.00015 / 1000, output: 0.0006 / 1000},
}

// imageRates maps model -> quality -> size to a flat per-image cost.
var imageRates = map[string]map[string]map[string]float64{
	"dall-e-2": {
		"standard": {
			"256x256":   0.016,
			"512x512":   0.018,
			"1024x1024": 0.020,
		},
	},
	"dall-e-3": {
		"standard": {
			"1024x1024": 0.040,
			"1024x1792": 0.080,
			"1792x1024": 0.080,
		},
		"hd": {
			"1024x1024": 0.080,
			"1024x1792": 0.120,
			"1792x1024": 0.120,
		},
	},
}

// CostTable converts completed API activity to dollar costs. It's a pure
// lookup: every query returns a number, using fallback rates for unknown
// models or size/quality combinations.
type CostTable struct{}

// NewCostTable returns a CostTable using the built-in rate maps.
func NewCostTable() *CostTable {
	return &CostTable{}
}

// ChatCost returns the dollar cost of a chat completion, given the model
// and the prompt/completion token counts reported by the provider.
func (CostTable) ChatCost(model string, requestTokens int, responseTokens int) float64 {
	rate, ok := chatRates[model]
	if !ok {
		rate = chatRate{input: defaultChatInputRate, output: defaultChatOutputRate}
	}
	return float64(requestTokens)*rate.input + float64(responseTokens)*rate.output
}

// ImageCost returns the dollar cost of generating count images with the
// given model, quality and size.
func (CostTable) ImageCost(model string, quality string, size string, count int) float64 {
	rate := defaultImageRate
	if qualities, ok := imageRates[model]; ok {
		if sizes, ok := qualities[quality]; ok {
			if r, ok := sizes[size]; ok {
				rate = r
			}
		}
	}
	return rate * float64(count)
}
