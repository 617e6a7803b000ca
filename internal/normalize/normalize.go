// Package normalize is the repair half of the audit pipeline: it
// detects anomalous fields in a stored profile record and rewrites
// them to plausible values. Every repair recomputes from the same
// source data, so a second run over a repaired record is a no-op.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/consistency"
	"github.com/xkilldash9x/fpwarden/internal/geocode"
	"github.com/xkilldash9x/fpwarden/internal/profile"
)

// chromeAllowancePX is the browser chrome height subtracted from the
// screen height when availHeight must be synthesized.
const chromeAllowancePX = 48

// ChangeLog records what a repair pass touched. An empty log means the
// record was already consistent and was not rewritten.
type ChangeLog map[string]any

// Geocoder resolves coordinates to a country. The normalizer treats
// lookup failures as non-fatal and records them in the change log.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (geocode.Result, error)
}

// Normalizer repairs profile records in place.
type Normalizer struct {
	store    *profile.Store
	geocoder Geocoder
	log      *zap.Logger
}

// NewNormalizer wires the repair pass. A nil geocoder disables the
// country reconciliation step; everything else still runs.
func NewNormalizer(store *profile.Store, geocoder Geocoder, logger *zap.Logger) *Normalizer {
	return &Normalizer{store: store, geocoder: geocoder, log: logger.Named("normalize")}
}

// Normalize runs every repair section against the record at path and
// writes the record back once, only when at least one change occurred.
// Sections are isolated: a failure in one is recorded in the change log
// and never blocks the others.
func (n *Normalizer) Normalize(ctx context.Context, path string) (ChangeLog, error) {
	unlock := n.store.Lock(path)
	defer unlock()

	p, err := n.store.Load(path)
	if err != nil {
		return nil, err
	}

	changes := ChangeLog{}
	section(changes, "CAMOU_CONFIG_1_error", func() { n.repairScreen(p, changes) })
	section(changes, "geolocation_error", func() { n.reconcileGeolocation(ctx, p, changes) })
	section(changes, "hardware_extract_error", func() { n.extractHardware(p, changes) })
	section(changes, "headless_error", func() { n.repairHeadless(p, changes) })
	section(changes, "hardware_defaults_error", func() { n.applyHardwareDefaults(p, changes) })

	if len(changes) == 0 {
		return changes, nil
	}
	if err := n.store.Save(path, p); err != nil {
		return nil, err
	}
	n.log.Info("Repaired profile record", zap.String("path", path), zap.Int("changes", len(changes)))
	return changes, nil
}

// section confines one repair group; a panic becomes a change-log entry.
func section(changes ChangeLog, errKey string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			changes[errKey] = fmt.Sprint(r)
		}
	}()
	fn()
}

// repairScreen clamps the blob's screen geometry to self-consistent
// values. Consistent fields are left untouched.
func (n *Normalizer) repairScreen(p schemas.Profile, changes ChangeLog) {
	raw := p.ConfigBlobRaw()
	if raw == "" {
		return
	}
	blob := consistency.ParseConfigBlob(raw)
	if !blob.Parsed() {
		return
	}
	values := blob.Values
	dirty := false

	width := intOr(values, "screen.width", intOr(values, "screen.availWidth", 1920))
	height := intOr(values, "screen.height", intOr(values, "screen.availHeight", 1080))
	availW := intOr(values, "screen.availWidth", width)
	availH := intOr(values, "screen.availHeight", max(0, height-chromeAllowancePX))
	availLeft := intOr(values, "screen.availLeft", 0)

	if availLeft >= width || availLeft < 0 {
		dirty = setInt(values, "screen.availLeft", 0) || dirty
	}
	if availW != width {
		dirty = setInt(values, "screen.availWidth", width) || dirty
	}
	if availH <= 0 || availH > height {
		dirty = setInt(values, "screen.availHeight", max(0, height-chromeAllowancePX)) || dirty
	}
	if intOr(values, "window.screenX", 0) >= width {
		dirty = setInt(values, "window.screenX", 0) || dirty
	}
	if intOr(values, "window.screenY", 0) >= height {
		dirty = setInt(values, "window.screenY", 0) || dirty
	}

	if dirty {
		serialized, err := json.Marshal(values)
		if err != nil {
			panic(err)
		}
		p.SetConfigBlobRaw(string(serialized))
		changes["CAMOU_CONFIG_1_normalized"] = true
	}
}

// reconcileGeolocation resolves the stored coordinates to a country,
// overrides a disagreeing IP-derived country, mirrors the coordinates
// into geolocation_js and copies the timezone into options.
func (n *Normalizer) reconcileGeolocation(ctx context.Context, p schemas.Profile, changes ChangeLog) {
	geoMap, _ := p["geolocation"].(map[string]any)
	if geoMap == nil {
		return
	}
	lat, latOK := numberAt(geoMap, "latitude")
	lon, lonOK := numberAt(geoMap, "longitude")
	if !latOK || !lonOK {
		return
	}

	if n.geocoder != nil {
		res, err := n.geocoder.Reverse(ctx, lat, lon)
		switch {
		case err != nil:
			changes["reverse_geocode_error"] = err.Error()
		case res.Country != "":
			if geoMap["country_resolved"] != res.Country {
				geoMap["country_resolved"] = res.Country
				changes["geolocation_country_resolved"] = res.Country
			}
			stored, _ := geoMap["country"].(string)
			if !strings.Contains(strings.ToLower(stored), strings.ToLower(res.Country)) {
				if stored != res.Country {
					geoMap["country"] = res.Country
					geoMap["country_source"] = "reverse_geocode"
					changes["geolocation_country_overridden"] = true
				}
			} else if geoMap["country_source"] != "ip-api" && geoMap["country_source"] != "reverse_geocode" {
				geoMap["country_source"] = "ip-api"
				changes["geolocation_country_source_set"] = "ip-api"
			}
		}
	}

	// Mirror the coordinates so geo-distance checks have a target.
	// Only a missing or stale mirror counts as a change.
	cur, _ := p["geolocation_js"].(map[string]any)
	curLat, latSet := numberAt(cur, "latitude")
	curLon, lonSet := numberAt(cur, "longitude")
	if !latSet || !lonSet || curLat != lat || curLon != lon {
		p["geolocation_js"] = map[string]any{"latitude": lat, "longitude": lon}
		changes["geolocation_js_set"] = true
	}

	if tz, _ := geoMap["timezone"].(string); tz != "" {
		opts := p.EnsureOptions()
		if opts["timezone"] != tz {
			opts["timezone"] = tz
			changes["timezone_in_options"] = tz
		}
	}
}

// extractHardware lifts canvas, WebGL, accept-language and timezone
// offset signals out of the config blob into the hardware object.
func (n *Normalizer) extractHardware(p schemas.Profile, changes ChangeLog) {
	blob := consistency.ParseConfigBlob(p.ConfigBlobRaw())
	if !blob.Parsed() {
		return
	}
	var extracted []string
	hw := p.EnsureHardware()

	if c, ok := blob.Any("canvas.hash", "canvas_fingerprint", "canvas"); ok {
		if h, ok := consistency.FingerprintHash(c); ok && hw["canvas_hash"] != h {
			hw["canvas_hash"] = h
			extracted = append(extracted, "canvas_hash")
		}
	}

	vendor, _ := blob.Str("webgl.vendor", "webgl_unmasked_vendor", "gpu.vendor")
	renderer, _ := blob.Str("webgl.renderer", "webgl_unmasked_renderer", "gpu.renderer")
	if vendor != "" || renderer != "" {
		dirty := false
		if hw["webgl_present"] != true {
			hw["webgl_present"] = true
			dirty = true
		}
		if vendor != "" && hw["webgl_vendor"] != vendor {
			hw["webgl_vendor"] = vendor
			dirty = true
		}
		if renderer != "" && hw["webgl_renderer"] != renderer {
			hw["webgl_renderer"] = renderer
			dirty = true
		}
		h := consistency.HashString(vendor + "|" + renderer)
		if hw["webgl_hash"] != h {
			hw["webgl_hash"] = h
			dirty = true
		}
		if dirty {
			extracted = append(extracted, "webgl")
		}
	}

	if al, ok := blob.Any("navigator.languages", "acceptLanguage"); ok {
		if joined := joinLanguages(al); joined != "" && hw["accept_language"] != joined {
			hw["accept_language"] = joined
			extracted = append(extracted, "accept_language")
		}
	}

	if tz := p.ConfiguredTimezone(); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			_, off := time.Now().UTC().In(loc).Zone()
			minutes := off / 60
			if cur, ok := numberAt(hw, "tz_offset_minutes"); !ok || int(cur) != minutes {
				hw["tz_offset_minutes"] = minutes
				extracted = append(extracted, "tz_offset_minutes")
			}
		}
	}

	if len(extracted) > 0 {
		changes["hardware_extracted"] = extracted
	}
}

// repairHeadless flips the headless flag when the fingerprint looks
// like a desktop browser: a rich font list or a Windows OS string.
func (n *Normalizer) repairHeadless(p schemas.Profile, changes ChangeLog) {
	opts := p.Options()
	if opts == nil || opts["headless"] != true {
		return
	}
	blob := consistency.ParseConfigBlob(p.ConfigBlobRaw())
	if !blob.Parsed() {
		return
	}
	fonts, _ := blob.List("fonts")
	oscpu, _ := blob.Str("navigator.oscpu")
	if len(fonts) > 20 || strings.Contains(oscpu, "Windows") {
		opts["headless"] = false
		changes["headless_for_fingerprint"] = true
	}
}

// applyHardwareDefaults fills hardware signals the blob never carried
// with explicit safe defaults and records which were applied.
func (n *Normalizer) applyHardwareDefaults(p schemas.Profile, changes ChangeLog) {
	blob := consistency.ParseConfigBlob(p.ConfigBlobRaw())
	hw := p.EnsureHardware()
	var applied []string

	if _, ok := hw["webgl_present"]; !ok {
		vendor, _ := blob.Str("webgl.vendor", "webgl_unmasked_vendor", "gpu.vendor")
		renderer, _ := blob.Str("webgl.renderer", "webgl_unmasked_renderer", "gpu.renderer")
		if vendor == "" && renderer == "" {
			hw["webgl_present"] = false
			applied = append(applied, "webgl_present_default_false")
		}
	}

	if _, ok := hw["device_memory_gb"]; !ok {
		if dm, ok := blob.Float("navigator.deviceMemory", "deviceMemory"); ok {
			hw["device_memory_gb"] = dm
			applied = append(applied, "device_memory_from_config")
		} else {
			hw["device_memory_gb"] = 8.0
			applied = append(applied, "device_memory_default_8GB")
		}
	}

	if hc, ok := blob.Int("navigator.hardwareConcurrency", "hardwareConcurrency"); ok {
		if cur, curOK := numberAt(hw, "hardware_concurrency"); !curOK || int(cur) != hc {
			hw["hardware_concurrency"] = hc
			applied = append(applied, "hardware_concurrency_from_config")
		}
	}

	if _, ok := hw["media_device_count"]; !ok {
		if devs, ok := blob.List("media_devices", "enumerateDevices"); ok {
			hw["media_device_count"] = len(devs)
			applied = append(applied, "media_device_count_from_config")
		} else {
			hw["media_device_count"] = 0
			applied = append(applied, "media_device_count_default_0")
		}
	}

	if len(applied) > 0 {
		changes["hardware_defaults_applied"] = applied
	}
}

// -- small helpers over loose JSON maps --

func numberAt(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func intOr(m map[string]any, key string, def int) int {
	if f, ok := numberAt(m, key); ok {
		return int(f)
	}
	return def
}

// setInt writes key only when the stored value differs; reports whether
// a write happened.
func setInt(m map[string]any, key string, v int) bool {
	if f, ok := numberAt(m, key); ok && int(f) == v {
		return false
	}
	m[key] = float64(v)
	return true
}

func joinLanguages(v any) string {
	switch val := v.(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case string:
		return val
	default:
		return ""
	}
}
