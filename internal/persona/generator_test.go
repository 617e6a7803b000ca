package persona

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/fpwarden/internal/consistency"
	"github.com/xkilldash9x/fpwarden/internal/validator"
)

func TestGenerateAlwaysValid(t *testing.T) {
	g := NewGenerator(42)
	for i := 0; i < 200; i++ {
		p, err := g.Generate()
		require.NoError(t, err)
		ok, reason := validator.ValidateWindowsPersona(p)
		assert.True(t, ok, "persona %d rejected: %s", i, reason)
		assert.Equal(t, 1920, p.Screen.Width)
		assert.Equal(t, 1080, p.Screen.Height)
		assert.GreaterOrEqual(t, len(p.Fonts), 21)
	}
}

func TestGenerateDeterministicForSeed(t *testing.T) {
	a, err := NewGenerator(7).Generate()
	require.NoError(t, err)
	b, err := NewGenerator(7).Generate()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := NewGenerator(8).Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a.NoiseSeed, c.NoiseSeed)
}

func TestRenderConfigBlobSatisfiesChecker(t *testing.T) {
	p, err := NewGenerator(1).Generate()
	require.NoError(t, err)

	raw, err := RenderConfigBlob(p)
	require.NoError(t, err)

	blob := consistency.ParseConfigBlob(raw)
	require.True(t, blob.Parsed())

	w, _ := blob.Int("screen.width")
	h, _ := blob.Int("screen.height")
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	ua, ok := blob.Str("navigator.userAgent")
	require.True(t, ok)
	assert.Contains(t, ua, "Windows NT 10.0")

	canvas, ok := blob.Str("canvas.hash")
	require.True(t, ok)
	assert.True(t, consistency.LooksLikeDigest(canvas))

	fonts, ok := blob.List("fonts")
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(fonts), 21)

	// The blob is a single JSON object, round-trippable as stored.
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
}
