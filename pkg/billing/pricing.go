package billing

import (
	"github.com/harborhq/aigateway/pkg/config"
)

// Pricer resolves per-provider token prices and applies the global margin.
// Prices are cents per million tokens and live in config so a hot reload
// reprices future calls without a restart. An unknown provider prices as
// zero: billing accuracy never outranks availability of the request path.
type Pricer struct {
	cfgStore *config.Store
}

func NewPricer(cfgStore *config.Store) *Pricer {
	return &Pricer{cfgStore: cfgStore}
}

// MarginPercent returns the global markup applied on top of raw provider cost.
func (p *Pricer) MarginPercent() float64 {
	cfg := p.cfgStore.Get()
	if cfg == nil {
		return 0
	}
	return cfg.Billing.MarginPercent
}

// Cost computes base and total cost in cents for a call.
//
//	base  = in/1e6*input_price + out/1e6*output_price
//	total = base * (1 + margin/100)
func (p *Pricer) Cost(provider string, inputTokens, outputTokens int64) (baseCents, totalCents float64) {
	var inPrice, outPrice float64
	if cfg := p.cfgStore.Get(); cfg != nil {
		if pc, ok := cfg.Providers[provider]; ok {
			inPrice = pc.InputPricePerMillion
			outPrice = pc.OutputPricePerMillion
		}
	}

	baseCents = float64(inputTokens)/1e6*inPrice + float64(outputTokens)/1e6*outPrice
	totalCents = baseCents * (1 + p.MarginPercent()/100)
	return baseCents, totalCents
}
