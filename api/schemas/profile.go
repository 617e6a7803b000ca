package schemas

import (
	"encoding/json"
)

// ConfigBlobKey is the environment key holding the serialized browser
// configuration inside a profile record's options.env map.
const ConfigBlobKey = "CAMOU_CONFIG_1"

// Profile is the whole persisted record for one browser identity.
//
// The record is written by several tools (the creation service, the
// normalizer, the consistency orchestrator) and always rewritten
// wholesale, so fields this code does not know about must survive a
// round trip. The record is therefore a plain key/value map with typed
// read views layered on top; mutation happens through the map itself.
type Profile map[string]any

// Options returns the options sub-map, or nil when absent.
func (p Profile) Options() map[string]any {
	return mapAt(p, "options")
}

// EnsureOptions returns the options sub-map, creating it when missing.
func (p Profile) EnsureOptions() map[string]any {
	return ensureMap(p, "options")
}

// Env returns options.env, or nil when absent.
func (p Profile) Env() map[string]any {
	return mapAt(p, "options", "env")
}

// ConfigBlobRaw returns the raw configuration blob string from
// options.env. A blob stored as an already-parsed JSON object is
// re-serialized so callers always see a string.
func (p Profile) ConfigBlobRaw() string {
	env := p.Env()
	if env == nil {
		return ""
	}
	switch v := env[ConfigBlobKey].(type) {
	case string:
		return v
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// SetConfigBlobRaw stores the configuration blob, creating the
// options.env path as needed.
func (p Profile) SetConfigBlobRaw(raw string) {
	opts := p.EnsureOptions()
	env, _ := opts["env"].(map[string]any)
	if env == nil {
		env = map[string]any{}
		opts["env"] = env
	}
	env[ConfigBlobKey] = raw
}

// Geolocation decodes the IP-derived geolocation block, or nil.
func (p Profile) Geolocation() *Geolocation {
	m := mapAt(p, "geolocation")
	if m == nil {
		return nil
	}
	var g Geolocation
	if !reencode(m, &g) {
		return nil
	}
	return &g
}

// GeolocationJS returns the client-side coordinates, checking the
// top-level field first and options second. Values are read directly
// rather than re-decoded so non-finite floats still reach the caller's
// validation.
func (p Profile) GeolocationJS() *Coordinates {
	for _, m := range []map[string]any{mapAt(p, "geolocation_js"), mapAt(p, "options", "geolocation_js")} {
		if m == nil {
			continue
		}
		lat, latOK := floatValue(m["latitude"])
		lon, lonOK := floatValue(m["longitude"])
		if latOK && lonOK {
			return &Coordinates{Latitude: &lat, Longitude: &lon}
		}
	}
	return nil
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Hardware returns the derived hardware signal map, or nil.
func (p Profile) Hardware() map[string]any {
	return mapAt(p, "hardware")
}

// EnsureHardware returns the hardware map, creating it when missing.
func (p Profile) EnsureHardware() map[string]any {
	return ensureMap(p, "hardware")
}

// ConfiguredTimezone returns the first configured timezone name found,
// checking options.timezone, then the top-level field, then geolocation.
func (p Profile) ConfiguredTimezone() string {
	if tz := stringAt(p, "options", "timezone"); tz != "" {
		return tz
	}
	if tz, _ := p["timezone"].(string); tz != "" {
		return tz
	}
	return stringAt(p, "geolocation", "timezone")
}

// ConsistencyOptions decodes the stored per-profile audit preferences,
// or nil when the record carries none.
func (p Profile) ConsistencyOptions() *ConsistencyOptions {
	m := mapAt(p, "consistency_options")
	if m == nil {
		return nil
	}
	var o ConsistencyOptions
	if !reencode(m, &o) {
		return nil
	}
	return &o
}

// SetConsistency writes the audit result into the record.
func (p Profile) SetConsistency(res *ConsistencyResult) {
	p["consistency"] = res
}

// Geolocation is the IP-derived "ground truth" location block.
type Geolocation struct {
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	City            string   `json:"city,omitempty"`
	Region          string   `json:"region,omitempty"`
	Country         string   `json:"country,omitempty"`
	Timezone        string   `json:"timezone,omitempty"`
	IP              string   `json:"ip,omitempty"`
	CountryResolved string   `json:"country_resolved,omitempty"`
	CountrySource   string   `json:"country_source,omitempty"`
}

// Coordinates is a bare latitude/longitude pair.
type Coordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// ConsistencyOptions are per-profile audit overrides. Pointer fields
// distinguish "unset" from an explicit false.
type ConsistencyOptions struct {
	IgnoreGeoCountry *bool `json:"ignore_geo_country,omitempty"`
}

// Findings is the deterministic checker's output. Every key is always
// serialized; a signal that could not be resolved is an explicit JSON
// null, never a missing key, so downstream consumers can rely on key
// presence.
type Findings struct {
	ScreenOK            *bool    `json:"screen_ok"`
	ScreenAnomalies     []string `json:"screen_anomalies"`
	GeoDistanceKM       *float64 `json:"geo_distance_km"`
	GeoOK               *bool    `json:"geo_ok"`
	TimezoneMatch       *bool    `json:"timezone_match"`
	CountryMismatch     *bool    `json:"country_mismatch"`
	UAPresent           *bool    `json:"ua_present"`
	PlatformPresent     *bool    `json:"platform_present"`
	FontsCount          *int     `json:"fonts_count"`
	FontsEnough         *bool    `json:"fonts_enough"`
	DeviceMemoryGB      *float64 `json:"device_memory_gb"`
	HardwareConcurrency *int     `json:"hardware_concurrency"`
	WebGLPresent        *bool    `json:"webgl_present"`
	WebGLVendor         *string  `json:"webgl_vendor"`
	WebGLRenderer       *string  `json:"webgl_renderer"`
	WebGLHash           *string  `json:"webgl_hash"`
	CanvasPresent       *bool    `json:"canvas_present"`
	CanvasHash          *string  `json:"canvas_hash"`
	MediaDeviceCount    *int     `json:"media_device_count"`
	AcceptLanguage      *string  `json:"accept_language"`
	TZOffsetMinutes     *int     `json:"tz_offset_minutes"`
}

// AssessorResult is the LLM assessor's output. It is an open map
// because the raw model text, backend metadata and any fields the model
// chose to emit must all be preserved verbatim alongside the contract
// fields (score, verdict, issues, hints, confidence).
type AssessorResult map[string]any

// Score returns the coerced integer score, defaulting to 0.
func (r AssessorResult) Score() int {
	switch v := r["score"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}

// Verdict returns the verdict string, or "".
func (r AssessorResult) Verdict() string {
	s, _ := r["verdict"].(string)
	return s
}

// ConsistencyResult is the persisted audit verdict.
type ConsistencyResult struct {
	Score     int                `json:"score"`
	Verdict   string             `json:"verdict"`
	Details   ConsistencyDetails `json:"details"`
	CheckedAt string             `json:"checked_at"`
	Model     string             `json:"model"`
}

// ConsistencyDetails carries both halves of the audit.
type ConsistencyDetails struct {
	Deterministic *Findings      `json:"deterministic"`
	LLM           AssessorResult `json:"llm"`
}

// -- map traversal helpers --

func mapAt(m map[string]any, keys ...string) map[string]any {
	cur := m
	for _, k := range keys {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func stringAt(m map[string]any, keys ...string) string {
	if len(keys) == 0 {
		return ""
	}
	parent := mapAt(m, keys[:len(keys)-1]...)
	if parent == nil {
		return ""
	}
	s, _ := parent[keys[len(keys)-1]].(string)
	return s
}

func ensureMap(m map[string]any, key string) map[string]any {
	if sub, ok := m[key].(map[string]any); ok {
		return sub
	}
	sub := map[string]any{}
	m[key] = sub
	return sub
}

// reencode copies a loosely-typed map into a typed view via a JSON
// round trip. Returns false when the shape is incompatible.
func reencode(src any, dst any) bool {
	b, err := json.Marshal(src)
	if err != nil {
		return false
	}
	return json.Unmarshal(b, dst) == nil
}
