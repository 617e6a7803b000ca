package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/geocode"
	"github.com/xkilldash9x/fpwarden/internal/profile"
)

type stubGeocoder struct {
	result geocode.Result
	err    error
	calls  int
}

func (s *stubGeocoder) Reverse(context.Context, float64, float64) (geocode.Result, error) {
	s.calls++
	return s.result, s.err
}

func writeRecord(t *testing.T, record map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "namespace.json")
	data, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func readRecord(t *testing.T, path string) schemas.Profile {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var p schemas.Profile
	require.NoError(t, json.Unmarshal(data, &p))
	return p
}

func newNormalizer(g Geocoder) *Normalizer {
	return NewNormalizer(profile.NewStore(zap.NewNop()), g, zap.NewNop())
}

func blobOf(t *testing.T, p schemas.Profile) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(p.ConfigBlobRaw()), &m))
	return m
}

func TestNormalizeScreenGeometry(t *testing.T) {
	blob, _ := json.Marshal(map[string]any{
		"screen.width":       1920,
		"screen.height":      1080,
		"screen.availWidth":  1680,
		"screen.availHeight": 1400,
		"screen.availLeft":   1920,
		"window.screenX":     2100,
	})
	path := writeRecord(t, map[string]any{
		"name":    "ns",
		"options": map[string]any{"env": map[string]any{schemas.ConfigBlobKey: string(blob)}},
	})

	n := newNormalizer(nil)
	changes, err := n.Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, true, changes["CAMOU_CONFIG_1_normalized"])

	repaired := blobOf(t, readRecord(t, path))
	assert.Equal(t, float64(0), repaired["screen.availLeft"])
	assert.Equal(t, float64(1920), repaired["screen.availWidth"])
	assert.Equal(t, float64(1032), repaired["screen.availHeight"])
	assert.Equal(t, float64(0), repaired["window.screenX"])
}

func TestNormalizeLeavesConsistentScreenAlone(t *testing.T) {
	blob, _ := json.Marshal(map[string]any{
		"screen.width":       1920,
		"screen.height":      1080,
		"screen.availWidth":  1920,
		"screen.availHeight": 1032,
		"screen.availLeft":   0,
	})
	path := writeRecord(t, map[string]any{
		"name":     "ns",
		"options":  map[string]any{"env": map[string]any{schemas.ConfigBlobKey: string(blob)}},
		"hardware": map[string]any{"webgl_present": false, "device_memory_gb": 8.0, "media_device_count": 0},
	})

	changes, err := newNormalizer(nil).Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.NotContains(t, changes, "CAMOU_CONFIG_1_normalized")
}

func TestNormalizeGeolocationAgreement(t *testing.T) {
	path := writeRecord(t, map[string]any{
		"name": "ns",
		"geolocation": map[string]any{
			"latitude": 52.52, "longitude": 13.405,
			"country": "Germany", "timezone": "Europe/Berlin",
		},
	})

	g := &stubGeocoder{result: geocode.Result{Country: "Germany", CountryCode: "de"}}
	changes, err := newNormalizer(g).Normalize(context.Background(), path)
	require.NoError(t, err)

	assert.NotContains(t, changes, "geolocation_country_overridden")
	assert.Equal(t, true, changes["geolocation_js_set"])
	assert.Equal(t, "Europe/Berlin", changes["timezone_in_options"])

	p := readRecord(t, path)
	geo := p.Geolocation()
	require.NotNil(t, geo)
	assert.Equal(t, "Germany", geo.Country)
	assert.Equal(t, "Germany", geo.CountryResolved)
	assert.Equal(t, "ip-api", geo.CountrySource)

	js := p.GeolocationJS()
	require.NotNil(t, js)
	assert.Equal(t, 52.52, *js.Latitude)
	assert.Equal(t, "Europe/Berlin", p.Options()["timezone"])
}

func TestNormalizeGeolocationOverride(t *testing.T) {
	path := writeRecord(t, map[string]any{
		"name": "ns",
		"geolocation": map[string]any{
			"latitude": 48.8566, "longitude": 2.3522,
			"country": "Germany",
		},
	})

	g := &stubGeocoder{result: geocode.Result{Country: "France", CountryCode: "fr"}}
	changes, err := newNormalizer(g).Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, true, changes["geolocation_country_overridden"])

	geo := readRecord(t, path).Geolocation()
	require.NotNil(t, geo)
	assert.Equal(t, "France", geo.Country)
	assert.Equal(t, "reverse_geocode", geo.CountrySource)
}

func TestNormalizeGeocoderFailureIsNonFatal(t *testing.T) {
	path := writeRecord(t, map[string]any{
		"name": "ns",
		"geolocation": map[string]any{
			"latitude": 52.52, "longitude": 13.405, "country": "Germany",
		},
	})

	g := &stubGeocoder{err: errors.New("nominatim unreachable")}
	changes, err := newNormalizer(g).Normalize(context.Background(), path)
	require.NoError(t, err)

	assert.Contains(t, changes["reverse_geocode_error"], "nominatim unreachable")
	// The coordinate mirror still gets synthesized.
	assert.Equal(t, true, changes["geolocation_js_set"])
}

func TestNormalizeHardwareExtraction(t *testing.T) {
	blob, _ := json.Marshal(map[string]any{
		"canvas.hash":                   "data:image/png;base64,XYZ",
		"webgl.vendor":                  "Intel",
		"webgl.renderer":                "Iris Xe",
		"navigator.languages":           []string{"en-US", "en"},
		"navigator.deviceMemory":        16,
		"navigator.hardwareConcurrency": 12,
		"media_devices":                 []any{map[string]any{}, map[string]any{}},
	})
	path := writeRecord(t, map[string]any{
		"name":     "ns",
		"timezone": "Europe/Berlin",
		"options":  map[string]any{"env": map[string]any{schemas.ConfigBlobKey: string(blob)}},
	})

	changes, err := newNormalizer(nil).Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, changes, "hardware_extracted")
	assert.Contains(t, changes, "hardware_defaults_applied")

	hw := readRecord(t, path).Hardware()
	require.NotNil(t, hw)
	assert.Equal(t, true, hw["webgl_present"])
	assert.Equal(t, "Intel", hw["webgl_vendor"])
	assert.Equal(t, "Iris Xe", hw["webgl_renderer"])
	assert.NotEmpty(t, hw["webgl_hash"])
	assert.NotEmpty(t, hw["canvas_hash"])
	assert.Equal(t, "en-US,en", hw["accept_language"])
	assert.Equal(t, float64(16), hw["device_memory_gb"])
	assert.Equal(t, float64(12), hw["hardware_concurrency"])
	assert.Equal(t, float64(2), hw["media_device_count"])
	assert.Contains(t, hw, "tz_offset_minutes")
}

func TestNormalizeHardwareDefaults(t *testing.T) {
	path := writeRecord(t, map[string]any{"name": "ns"})

	changes, err := newNormalizer(nil).Normalize(context.Background(), path)
	require.NoError(t, err)

	applied, ok := changes["hardware_defaults_applied"].([]string)
	require.True(t, ok)
	assert.Contains(t, applied, "device_memory_default_8GB")
	assert.Contains(t, applied, "media_device_count_default_0")
	assert.Contains(t, applied, "webgl_present_default_false")

	hw := readRecord(t, path).Hardware()
	require.NotNil(t, hw)
	assert.Equal(t, float64(8), hw["device_memory_gb"])
	assert.Equal(t, float64(0), hw["media_device_count"])
	assert.Equal(t, false, hw["webgl_present"])
}

func TestNormalizeHeadlessHeuristic(t *testing.T) {
	blob, _ := json.Marshal(map[string]any{
		"navigator.oscpu": "Windows NT 10.0; Win64; x64",
	})
	path := writeRecord(t, map[string]any{
		"name": "ns",
		"options": map[string]any{
			"headless": true,
			"env":      map[string]any{schemas.ConfigBlobKey: string(blob)},
		},
	})

	changes, err := newNormalizer(nil).Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, true, changes["headless_for_fingerprint"])
	assert.Equal(t, false, readRecord(t, path).Options()["headless"])
}

func TestNormalizeIdempotent(t *testing.T) {
	blob, _ := json.Marshal(map[string]any{
		"screen.width":       1920,
		"screen.height":      1080,
		"screen.availHeight": 1400,
		"screen.availLeft":   1920,
		"webgl.vendor":       "Intel",
		"navigator.oscpu":    "Windows NT 10.0",
		"fonts":              []string{"Arial", "Verdana"},
	})
	path := writeRecord(t, map[string]any{
		"name": "ns",
		"geolocation": map[string]any{
			"latitude": 52.52, "longitude": 13.405,
			"country": "Germany", "timezone": "Europe/Berlin",
		},
		"options": map[string]any{
			"headless": true,
			"env":      map[string]any{schemas.ConfigBlobKey: string(blob)},
		},
	})

	g := &stubGeocoder{result: geocode.Result{Country: "Germany"}}
	n := newNormalizer(g)

	first, err := n.Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := n.Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, second, "second run must be a no-op, got %v", second)
}

func TestNormalizeMissingRecord(t *testing.T) {
	_, err := newNormalizer(nil).Normalize(context.Background(), filepath.Join(t.TempDir(), "gone.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestNormalizeGarbageBlobDoesNotBlockOtherSections(t *testing.T) {
	path := writeRecord(t, map[string]any{
		"name":    "ns",
		"options": map[string]any{"env": map[string]any{schemas.ConfigBlobKey: "not json at all"}},
		"geolocation": map[string]any{
			"latitude": 52.52, "longitude": 13.405,
		},
	})

	changes, err := newNormalizer(nil).Normalize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, true, changes["geolocation_js_set"])
}
