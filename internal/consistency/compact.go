package consistency

import (
	"github.com/xkilldash9x/fpwarden/api/schemas"
)

// hardwareSummaryKeys are the hardware fields worth showing the model.
var hardwareSummaryKeys = []string{
	"device_memory_gb", "hardware_concurrency", "fonts", "fonts_count",
	"webgl_present", "webgl_vendor", "webgl_renderer", "webgl_hash",
	"canvas_hash", "media_device_count", "accept_language", "tz_offset_minutes",
}

// Compact builds a size-bounded representation of a profile for LLM
// prompts. Identity fields, a geolocation summary and the hardware
// summary survive; the configuration blob is hard-truncated with an
// explicit marker key once it exceeds maxChars. Cookies, storage state
// and screenshots are never read in the first place.
func Compact(p schemas.Profile, maxChars int) map[string]any {
	compact := map[string]any{}

	for _, k := range []string{"name", "created_at", "user_data_dir"} {
		if v, ok := p[k]; ok {
			compact[k] = v
		}
	}

	if geo := p.Geolocation(); geo != nil {
		compact["geolocation"] = map[string]any{
			"latitude":  geo.Latitude,
			"longitude": geo.Longitude,
			"country":   geo.Country,
		}
	}

	if raw := p.ConfigBlobRaw(); raw != "" {
		if len(raw) > maxChars {
			compact[schemas.ConfigBlobKey+"_truncated"] = raw[:maxChars] + "..."
		} else {
			compact[schemas.ConfigBlobKey] = raw
		}
	}
	if opts := p.Options(); opts != nil {
		if headless, ok := opts["headless"]; ok {
			compact["headless"] = headless
		}
	}

	if js, ok := p["geolocation_js"]; ok {
		compact["geolocation_js"] = js
	}

	if hw := p.Hardware(); hw != nil {
		for _, k := range hardwareSummaryKeys {
			if v, ok := hw[k]; ok {
				compact[k] = v
			}
		}
	}

	return compact
}
