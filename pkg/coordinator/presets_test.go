package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-signals/pkg/domain"
	"github.com/polisai/polis-signals/pkg/probe"
)

func TestPresetsAreValid(t *testing.T) {
	assert.Equal(t, []string{"ecommerce", "fintech", "media", "saas"}, PresetNames())
	for _, name := range PresetNames() {
		cfg, err := Preset(name)
		require.NoError(t, err, name)
		require.NoError(t, domain.ValidateDomains(cfg.Domains), name)
		assert.True(t, cfg.Filtering.EnableBotDetection, name)
	}
}

func TestPresetReturnsIndependentCopies(t *testing.T) {
	a, err := Preset("ecommerce")
	require.NoError(t, err)
	a.Domains[0].Features[0] = "changed"

	b, err := Preset("ecommerce")
	require.NoError(t, err)
	assert.Equal(t, "login", b.Domains[0].Features[0])
}

func TestUnknownPreset(t *testing.T) {
	_, err := Preset("gaming")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "preset", nf.Kind)
	assert.Contains(t, err.Error(), "fintech")
}

func TestNewForPreset(t *testing.T) {
	c, err := NewForPreset("ecommerce", WithProbe(probe.Desktop("shop.example.com")), WithSetup(noopSetup))
	require.NoError(t, err)
	ctx := context.Background()
	t.Cleanup(func() { _ = c.Destroy(ctx) })

	require.NoError(t, c.Initialize(ctx))
	stats := c.Stats()
	assert.Equal(t, []string{"authentication", "ecommerce", "payments"}, stats.Domains)
	assert.Equal(t, []string{"log"}, stats.Exporters)
	assert.Equal(t, 0.5, stats.Filter.SamplingRate)

	_, err = c.Payments()
	assert.NoError(t, err)
}
