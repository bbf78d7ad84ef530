package costcontrol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_FlatAndTiered(t *testing.T) {
	assert.Equal(t, 0.025, Lookup(nil, "fal", "flux-dev", ""))
	assert.Equal(t, 0.07, Lookup(nil, "openai", "gpt-image-1.5", "medium"))
	assert.Equal(t, 0.07, Lookup(nil, "openai", "gpt-image-1.5", "MEDIUM"))
}

func TestLookup_Fallbacks(t *testing.T) {
	assert.Equal(t, FallbackPrice, Lookup(nil, "fal", "unknown-model", ""))
	assert.Equal(t, FallbackPrice, Lookup(nil, "nope", "flux-dev", ""))
	assert.Equal(t, FallbackPrice, Lookup(nil, "openai", "gpt-image-1.5", ""), "tiered price without quality")
	assert.Equal(t, FallbackPrice, Lookup(nil, "openai", "dall-e-3", "ultra"), "unknown tier")
}

func TestLookup_OverrideWinsPerModel(t *testing.T) {
	overrides := PriceTable{"fal": {"flux-dev": {Flat: 0.5}}}

	assert.Equal(t, 0.5, Lookup(overrides, "fal", "flux-dev", ""))
	assert.Equal(t, 0.003, Lookup(overrides, "fal", "flux-schnell", ""), "other models keep defaults")
}

func TestEffective_DoesNotMutateDefaults(t *testing.T) {
	eff := Effective(PriceTable{"replicate": {"sdxl": {Flat: 0.01}}})
	eff["fal"]["flux-dev"] = Price{Flat: 99}

	assert.Equal(t, 0.01, eff["replicate"]["sdxl"].Flat)
	assert.Equal(t, 0.025, Lookup(nil, "fal", "flux-dev", ""))
}

func TestPrice_JSONForms(t *testing.T) {
	var table PriceTable
	raw := `{"openai":{"gpt-4o":0.004,"dall-e-3":{"Standard":0.05,"hd":0.09}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &table))

	assert.Equal(t, 0.004, table["openai"]["gpt-4o"].Flat)
	assert.Equal(t, 0.05, table["openai"]["dall-e-3"].ByQuality["standard"])

	out, err := json.Marshal(table["openai"]["gpt-4o"])
	require.NoError(t, err)
	assert.JSONEq(t, `0.004`, string(out))
}

func TestPrice_RejectsGarbage(t *testing.T) {
	var p Price
	assert.Error(t, json.Unmarshal([]byte(`"cheap"`), &p))
}
