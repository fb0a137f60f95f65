package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for in, want := range map[string]Kind{"": Auto, "auto": Auto, "CPU": CPU, " gpu ": GPU} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Parse("tpu")
	assert.Error(t, err)
}

func TestWantsAccelerator(t *testing.T) {
	assert.True(t, Config{Kind: Auto}.WantsAccelerator())
	assert.True(t, Config{Kind: GPU}.WantsAccelerator())
	assert.False(t, Config{Kind: CPU}.WantsAccelerator())
	assert.Equal(t, "gpu(nvidia)", Config{Kind: GPU, Adapter: "nvidia"}.String())
	assert.Equal(t, "cpu", Config{Kind: CPU, Adapter: "nvidia"}.String())
}
