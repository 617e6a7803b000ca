// Package validator decides whether a generated persona passes for a
// real desktop Windows machine. Generation is random within plausible
// bounds; validation is the hard gate that rejects impossible
// combinations before they ever reach a profile.
package validator

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/fpwarden/api/schemas"
)

var windowsPlatformValues = map[string]struct{}{
	"Win32": {},
	"Win64": {},
}

var windowsUAKeywords = []string{
	"Windows NT 10.0",
	"Windows NT 11.0",
}

// forbiddenKeywords are GPU/OS markers that never occur on a Windows
// desktop and instantly give away a mis-assembled fingerprint.
var forbiddenKeywords = []string{
	"Apple",
	"Mac OS",
	"Macintosh",
	"M1",
	"M2",
	"M3",
	"Metal",
	"ARM",
	"ANGLE Metal",
}

var allowedGPUVendors = []string{
	"Intel",
	"NVIDIA",
	"AMD",
}

var allowedDPRs = map[float64]struct{}{
	1: {}, 1.25: {}, 1.5: {}, 2: {},
}

var allowedDeviceMemoryGB = map[int]struct{}{
	4: {}, 8: {}, 16: {}, 32: {},
}

// ValidateWindowsPersona reports whether the persona is a realistic
// Windows machine. The returned reason names the first failing rule,
// or "OK".
func ValidateWindowsPersona(p *schemas.Persona) (bool, string) {
	if _, ok := windowsPlatformValues[p.Platform]; !ok {
		return false, fmt.Sprintf("invalid platform: %q", p.Platform)
	}

	if !containsAny(p.UserAgent, windowsUAKeywords) {
		return false, fmt.Sprintf("invalid user agent: %q", p.UserAgent)
	}

	if p.WebGL.Vendor == "" && p.WebGL.Renderer == "" {
		return false, "missing WebGL info"
	}
	vendor := strings.ToLower(p.WebGL.Vendor)
	renderer := strings.ToLower(p.WebGL.Renderer)
	for _, bad := range forbiddenKeywords {
		lowered := strings.ToLower(bad)
		if strings.Contains(vendor, lowered) || strings.Contains(renderer, lowered) {
			return false, fmt.Sprintf("forbidden WebGL keyword detected: %s", bad)
		}
	}
	if !vendorAllowed(vendor) {
		return false, fmt.Sprintf("non-Windows GPU vendor: %q", p.WebGL.Vendor)
	}

	if p.Screen.Width == 0 || p.Screen.Height == 0 {
		return false, "invalid screen size"
	}
	if p.Screen.Width < 1024 || p.Screen.Height < 720 {
		return false, "screen resolution too small for desktop Windows"
	}
	if _, ok := allowedDPRs[p.Screen.DPR]; !ok {
		return false, fmt.Sprintf("suspicious DPR: %v", p.Screen.DPR)
	}

	if p.HardwareConcurrency < 2 || p.HardwareConcurrency > 32 {
		return false, fmt.Sprintf("unrealistic CPU cores: %d", p.HardwareConcurrency)
	}
	if p.DeviceMemoryGB != 0 {
		if _, ok := allowedDeviceMemoryGB[p.DeviceMemoryGB]; !ok {
			return false, fmt.Sprintf("suspicious device memory: %dGB", p.DeviceMemoryGB)
		}
	}

	if p.Timezone == "" {
		return false, "missing timezone"
	}
	if len(p.Languages) == 0 {
		return false, "invalid languages"
	}

	return true, "OK"
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func vendorAllowed(lowerVendor string) bool {
	for _, v := range allowedGPUVendors {
		if strings.Contains(lowerVendor, strings.ToLower(v)) {
			return true
		}
	}
	return false
}
