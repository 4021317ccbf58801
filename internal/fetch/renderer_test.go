package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRenderer_AppliesDefaults(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer(RendererConfig{})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.Equal(t, 90*time.Second, r.cfg.NavigationTimeout)
	require.Equal(t, 2*time.Second, r.cfg.SettleDelay)
	require.Equal(t, 3, r.cfg.ScrollSteps)
	require.Equal(t, time.Second, r.cfg.ScrollPause)
}

func TestNewRenderer_KeepsConfiguredPacing(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer(RendererConfig{
		MaxParallel: 2,
		ScrollSteps: 5,
		ScrollPause: 700 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	require.Equal(t, 5, r.cfg.ScrollSteps)
	require.Equal(t, 700*time.Millisecond, r.cfg.ScrollPause)
}

func TestNewRenderer_RejectsNegativeParallelism(t *testing.T) {
	t.Parallel()

	_, err := NewRenderer(RendererConfig{MaxParallel: -1})
	require.Error(t, err)
}
