package costcontrol

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FallbackPrice is charged for models missing from the table (conservative
// so an unknown model never slips through as free).
const FallbackPrice = 0.20

// Price is the estimated cost of one request to a model. Either a flat amount
// or a per-quality table ("low", "medium", "high", "hd", ...).
type Price struct {
	Flat      float64
	ByQuality map[string]float64
}

// MarshalJSON encodes flat prices as a number and tiered prices as an object.
func (p Price) MarshalJSON() ([]byte, error) {
	if p.ByQuality != nil {
		return json.Marshal(p.ByQuality)
	}
	return json.Marshal(p.Flat)
}

// UnmarshalJSON accepts either a number or a {quality: number} object.
func (p *Price) UnmarshalJSON(data []byte) error {
	var flat float64
	if err := json.Unmarshal(data, &flat); err == nil {
		*p = Price{Flat: flat}
		return nil
	}
	var tiers map[string]float64
	if err := json.Unmarshal(data, &tiers); err != nil {
		return fmt.Errorf("price must be a number or a quality map: %w", err)
	}
	normalized := make(map[string]float64, len(tiers))
	for q, v := range tiers {
		normalized[strings.ToLower(q)] = v
	}
	*p = Price{ByQuality: normalized}
	return nil
}

// PriceTable maps provider -> model -> price.
type PriceTable map[string]map[string]Price

func flat(v float64) Price { return Price{Flat: v} }

func tiers(t map[string]float64) Price { return Price{ByQuality: t} }

// defaultPriceTable holds per-request estimates in USD as of January 2026.
var defaultPriceTable = PriceTable{
	"openai": {
		// Image generation
		"gpt-image-1.5": tiers(map[string]float64{"low": 0.02, "medium": 0.07, "high": 0.20}),
		"dall-e-3":      tiers(map[string]float64{"standard": 0.04, "hd": 0.08}),
		// Chat / completion
		"gpt-5.2":      flat(0.01),
		"gpt-5.2-mini": flat(0.002),
		"gpt-5":        flat(0.008),
		"gpt-4.5":      flat(0.005),
		"gpt-4o":       flat(0.005),
		"gpt-4o-mini":  flat(0.0002),
		"o3":           flat(0.015),
		"o3-mini":      flat(0.003),
		"o1":           flat(0.012),
		"o1-mini":      flat(0.002),
	},
	"fal": {
		"gpt-image-1.5":           tiers(map[string]float64{"low": 0.013, "medium": 0.051, "high": 0.17}),
		"flux-dev":                flat(0.025),
		"flux-dev-image-to-image": flat(0.025),
		"flux-schnell":            flat(0.003),
		"flux-pro":                flat(0.05),
		"flux-pro-1.1":            flat(0.04),
		"flux-realism":            flat(0.025),
		"recraft-v3":              flat(0.04),
		"ideogram-v2":             flat(0.08),
		"stable-diffusion-3.5":    flat(0.035),
	},
	"minimax": {
		// Video, per clip
		"MiniMax-Hailuo-2.3-Fast-768p-6s":  flat(0.19),
		"MiniMax-Hailuo-2.3-Fast-768p-10s": flat(0.32),
		"MiniMax-Hailuo-2.3-Fast-1080p-6s": flat(0.33),
		"MiniMax-Hailuo-2.3-768p-6s":       flat(0.28),
		"MiniMax-Hailuo-2.3-768p-10s":      flat(0.56),
		"MiniMax-Hailuo-2.3-1080p-6s":      flat(0.49),
		"MiniMax-Hailuo-02-512p-6s":        flat(0.10),
		"MiniMax-Hailuo-02-512p-10s":       flat(0.15),
		"video-01":                         flat(0.28),
		// TTS, per character
		"speech-02-turbo":  flat(0.00006),
		"speech-2.6-turbo": flat(0.00006),
		"speech-02-hd":     flat(0.0001),
		"speech-2.6-hd":    flat(0.0001),
		"speech-01":        flat(0.00006),
		// Music, per song
		"music-2.0": flat(0.03),
		"image-01":  flat(0.0035),
	},
	"anthropic": {
		"claude-opus-4.5":  flat(0.015),
		"claude-sonnet-4":  flat(0.003),
		"claude-haiku-3.5": flat(0.0008),
	},
	"google": {
		"gemini-2.0-flash": flat(0.0001),
		"gemini-2.0-pro":   flat(0.00125),
	},
}

// DefaultPriceTable returns a copy of the built-in table.
func DefaultPriceTable() PriceTable {
	return defaultPriceTable.Clone()
}

// Clone deep-copies the table.
func (t PriceTable) Clone() PriceTable {
	out := make(PriceTable, len(t))
	for provider, models := range t {
		m := make(map[string]Price, len(models))
		for model, p := range models {
			if p.ByQuality != nil {
				q := make(map[string]float64, len(p.ByQuality))
				for k, v := range p.ByQuality {
					q[k] = v
				}
				p.ByQuality = q
			}
			m[model] = p
		}
		out[provider] = m
	}
	return out
}

// Effective layers overrides on top of the defaults. An override entry
// replaces the default for that provider/model only.
func Effective(overrides PriceTable) PriceTable {
	out := DefaultPriceTable()
	for provider, models := range overrides.Clone() {
		if out[provider] == nil {
			out[provider] = make(map[string]Price, len(models))
		}
		for model, p := range models {
			out[provider][model] = p
		}
	}
	return out
}

// Lookup returns the estimated price of one request.
// Tries the override layer, then the defaults, then FallbackPrice. A tiered
// price with no (or an unknown) quality also falls back.
func Lookup(overrides PriceTable, provider, model, quality string) float64 {
	p, ok := overrides[provider][model]
	if !ok {
		p, ok = defaultPriceTable[provider][model]
	}
	if !ok {
		return FallbackPrice
	}
	if p.ByQuality == nil {
		return p.Flat
	}
	if quality == "" {
		return FallbackPrice
	}
	if v, ok := p.ByQuality[strings.ToLower(quality)]; ok {
		return v
	}
	return FallbackPrice
}

// Providers returns the sorted provider names of the table.
func (t PriceTable) Providers() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
