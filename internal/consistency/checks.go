package consistency

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/geoutil"
)

// Canonical target resolution every generated profile advertises.
const (
	targetScreenWidth  = 1920
	targetScreenHeight = 1080
)

// geoOKMaxDistanceKM is how far apart IP geolocation and JS geolocation
// may sit before the pair is flagged.
const geoOKMaxDistanceKM = 200.0

var (
	blobLatRe      = regexp.MustCompile(`"latitude":\s*([0-9\.\-]+)`)
	blobLonRe      = regexp.MustCompile(`"longitude":\s*([0-9\.\-]+)`)
	blobUARe       = regexp.MustCompile(`"navigator.userAgent":\s*"([^"]+)"`)
	blobPlatformRe = regexp.MustCompile(`"navigator.platform":\s*"([^"]+)"`)
	blobOSCPURe    = regexp.MustCompile(`"navigator.oscpu":\s*"([^"]+)"`)
)

// Check derives the deterministic findings for a profile record. The
// record is never mutated and no network is touched. Each check group
// runs isolated: a panic inside one group leaves only that group's keys
// null and never aborts the siblings.
func Check(p schemas.Profile, ignoreGeoCountry bool) *schemas.Findings {
	f := &schemas.Findings{}
	blob := ParseConfigBlob(p.ConfigBlobRaw())

	guard(func() { checkScreen(blob, f) })
	guard(func() { checkGeoDistance(p, blob, f) })
	guard(func() { checkTimezone(p, f) })
	guard(func() { checkCountry(p, ignoreGeoCountry, f) })
	guard(func() { checkUAPlatform(blob, f) })
	guard(func() { checkHardware(p, blob, f) })

	return f
}

// guard isolates one check group; a panic nulls only its own keys.
func guard(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func checkScreen(blob ConfigBlob, f *schemas.Findings) {
	// Failure in this group reads as a failed screen check, not unknown.
	f.ScreenOK = boolPtr(false)

	if blob.Parsed() {
		w, _ := blob.Int("screen.width")
		h, _ := blob.Int("screen.height")
		f.ScreenOK = boolPtr(w == targetScreenWidth && h == targetScreenHeight)
	} else {
		f.ScreenOK = boolPtr(strings.Contains(blob.Raw, `"screen.width":1920`) &&
			strings.Contains(blob.Raw, `"screen.height":1080`))
	}

	var anomalies []string
	if blob.Parsed() {
		w, wok := blob.Int("screen.width")
		h, hok := blob.Int("screen.height")
		ah, ahok := blob.Int("screen.availHeight")
		aleft, aleftok := blob.Int("screen.availLeft")

		if wok && w != 0 && aleftok && aleft >= w {
			anomalies = append(anomalies, "availLeft>=width")
		}
		if ahok && ah != 0 && hok && h != 0 && ah > h {
			anomalies = append(anomalies, "availHeight>height")
		}
		if ahok && ah != 0 && hok && h != 0 && abs(h-ah) > 200 {
			anomalies = append(anomalies, "availHeight_diff_large")
		}
	}
	f.ScreenAnomalies = anomalies // nil marshals as null when empty
}

func checkGeoDistance(p schemas.Profile, blob ConfigBlob, f *schemas.Findings) {
	ipGeo := p.Geolocation()
	jsGeo := p.GeolocationJS()
	if jsGeo == nil {
		// Rare fallback: coordinates embedded in the raw blob.
		mlat := blobLatRe.FindStringSubmatch(blob.Raw)
		mlon := blobLonRe.FindStringSubmatch(blob.Raw)
		if mlat != nil && mlon != nil {
			lat, latOK := coerceFloat(mlat[1])
			lon, lonOK := coerceFloat(mlon[1])
			if latOK && lonOK {
				jsGeo = &schemas.Coordinates{Latitude: &lat, Longitude: &lon}
			}
		}
	}

	// Unknown is distinct from failed: both keys stay null when either
	// coordinate set is missing.
	if ipGeo == nil || ipGeo.Latitude == nil || ipGeo.Longitude == nil || jsGeo == nil {
		return
	}

	d := geoutil.HaversineKM(*ipGeo.Latitude, *ipGeo.Longitude, *jsGeo.Latitude, *jsGeo.Longitude)
	if math.IsNaN(d) {
		f.GeoOK = boolPtr(false)
		return
	}
	f.GeoDistanceKM = &d
	f.GeoOK = boolPtr(d < geoOKMaxDistanceKM)
}

func checkTimezone(p schemas.Profile, f *schemas.Findings) {
	var ipTZ string
	if geo := p.Geolocation(); geo != nil {
		ipTZ = geo.Timezone
	}
	optTZ := ""
	if opts := p.Options(); opts != nil {
		optTZ, _ = opts["timezone"].(string)
	}
	if optTZ == "" {
		optTZ, _ = p["timezone"].(string)
	}
	if ipTZ == "" || optTZ == "" {
		return
	}

	off1, ok1 := tzOffsetMinutes(ipTZ)
	off2, ok2 := tzOffsetMinutes(optTZ)
	if !ok1 || !ok2 {
		// Unresolvable zone name: fall back to exact name equality.
		f.TimezoneMatch = boolPtr(ipTZ == optTZ)
		return
	}
	f.TimezoneMatch = boolPtr(off1 == off2)
}

func checkCountry(p schemas.Profile, ignoreGeoCountry bool, f *schemas.Findings) {
	if ignoreGeoCountry {
		// Policy: proxy/VPN-induced country drift is not penalized
		// unless the caller opts in.
		return
	}
	geo := p.Geolocation()
	if geo == nil || geo.Country == "" || geo.CountryResolved == "" {
		return
	}
	mismatch := !strings.EqualFold(strings.TrimSpace(geo.Country), strings.TrimSpace(geo.CountryResolved))
	f.CountryMismatch = &mismatch
}

func checkUAPlatform(blob ConfigBlob, f *schemas.Findings) {
	f.UAPresent = boolPtr(blobUARe.MatchString(blob.Raw))
	f.PlatformPresent = boolPtr(blobPlatformRe.MatchString(blob.Raw) || blobOSCPURe.MatchString(blob.Raw))
}

func checkHardware(p schemas.Profile, blob ConfigBlob, f *schemas.Findings) {
	hw := p.Hardware()

	// fonts
	fonts := listFrom(hw, "fonts")
	if fonts == nil {
		fonts, _ = blob.List("fonts")
	}
	if fonts != nil {
		n := len(fonts)
		f.FontsCount = &n
	}
	f.FontsEnough = boolPtr(f.FontsCount != nil && *f.FontsCount >= 20)

	// device memory (GB)
	if v, ok := firstPresent(hw, "device_memory_gb"); ok {
		if dm, ok := coerceFloat(v); ok {
			f.DeviceMemoryGB = &dm
		}
	} else if dm, ok := blob.Float("navigator.deviceMemory", "deviceMemory"); ok {
		f.DeviceMemoryGB = &dm
	}

	// hardware concurrency
	if v, ok := firstPresent(hw, "hardware_concurrency"); ok {
		if hc, ok := coerceInt(v); ok {
			f.HardwareConcurrency = &hc
		}
	} else if hc, ok := blob.Int("navigator.hardwareConcurrency", "hardwareConcurrency"); ok {
		f.HardwareConcurrency = &hc
	}

	// WebGL / GPU; explicit hardware values win over blob values.
	vendor := stringFrom(hw, "webgl_vendor")
	if vendor == "" {
		vendor, _ = blob.Str("webgl.vendor", "webgl_unmasked_vendor", "gpu.vendor")
	}
	renderer := stringFrom(hw, "webgl_renderer")
	if renderer == "" {
		renderer, _ = blob.Str("webgl.renderer", "webgl_unmasked_renderer", "gpu.renderer")
	}
	if v, ok := firstPresent(hw, "webgl_present"); ok {
		if b, isBool := v.(bool); isBool {
			f.WebGLPresent = &b
		}
	}
	if f.WebGLPresent == nil {
		f.WebGLPresent = boolPtr(vendor != "" || renderer != "")
	}
	if vendor != "" {
		f.WebGLVendor = &vendor
	}
	if renderer != "" {
		f.WebGLRenderer = &renderer
	}

	// canvas fingerprint hash
	canvasRaw, ok := firstPresent(hw, "canvas_hash")
	if !ok {
		canvasRaw, _ = blob.Any("canvas.hash", "canvas_fingerprint", "canvas")
	}
	if h, ok := FingerprintHash(canvasRaw); ok {
		f.CanvasHash = &h
	}
	f.CanvasPresent = boolPtr(f.CanvasHash != nil)

	// WebGL hash: explicit value, else derived from vendor|renderer.
	webglHash := stringFrom(hw, "webgl_hash")
	if webglHash == "" {
		webglHash, _ = blob.Str("webgl.hash")
	}
	if webglHash == "" && (vendor != "" || renderer != "") {
		webglHash = HashString(vendor + "|" + renderer)
	}
	if webglHash != "" {
		f.WebGLHash = &webglHash
	}

	// media device enumeration
	if v, ok := firstPresent(hw, "media_device_count"); ok {
		if n, ok := coerceInt(v); ok {
			f.MediaDeviceCount = &n
		}
	} else if devs, ok := blob.List("media_devices", "enumerateDevices"); ok {
		n := len(devs)
		f.MediaDeviceCount = &n
	}

	// Accept-Language / navigator.languages
	al, ok := firstPresent(hw, "accept_language")
	if !ok {
		al, ok = blob.Any("navigator.languages", "acceptLanguage")
	}
	if !ok {
		al, ok = p["accept_language"], p["accept_language"] != nil
	}
	if ok {
		if s := joinLanguages(al); s != "" {
			f.AcceptLanguage = &s
		}
	}

	// timezone offset minutes
	if tz := p.ConfiguredTimezone(); tz != "" {
		if off, ok := tzOffsetMinutes(tz); ok {
			f.TZOffsetMinutes = &off
		}
	}
}

// tzOffsetMinutes resolves a zone name against the IANA database and
// returns its current UTC offset.
func tzOffsetMinutes(name string) (int, bool) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return 0, false
	}
	_, off := time.Now().UTC().In(loc).Zone()
	return off / 60, true
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

func firstPresent(m map[string]any, keys ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringFrom(m map[string]any, key string) string {
	v, ok := firstPresent(m, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func listFrom(m map[string]any, key string) []any {
	v, ok := firstPresent(m, key)
	if !ok {
		return nil
	}
	l, _ := v.([]any)
	return l
}

func boolPtr(b bool) *bool { return &b }

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
