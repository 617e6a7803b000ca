// Package persona generates plausible Windows device identities for
// new profiles. Generation is seedable so a profile can be recreated
// bit-for-bit, and every generated persona must pass the Windows
// plausibility validator before it is handed out.
package persona

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/rotisserie/eris"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/consistency"
	"github.com/xkilldash9x/fpwarden/internal/validator"
)

// Canonical resolution for all generated profiles. Uniformity here is
// deliberate: 1920x1080 is the most common desktop resolution, and the
// deterministic screen check pins to it.
const (
	screenWidth  = 1920
	screenHeight = 1080
	chromeHeight = 48
)

var chromeVersions = []string{
	"122.0.0.0", "123.0.0.0", "124.0.0.0", "125.0.0.0", "126.0.0.0",
}

type gpu struct {
	vendor   string
	renderer string
}

var gpuPool = []gpu{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce RTX 4070 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) Iris(R) Xe Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 6600 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
}

type locale struct {
	timezone  string
	languages []string
	locale    string
}

var localePool = []locale{
	{"Europe/Berlin", []string{"de-DE", "de", "en"}, "de-DE"},
	{"Europe/Paris", []string{"fr-FR", "fr", "en"}, "fr-FR"},
	{"Europe/London", []string{"en-GB", "en"}, "en-GB"},
	{"America/New_York", []string{"en-US", "en"}, "en-US"},
	{"America/Chicago", []string{"en-US", "en"}, "en-US"},
	{"Europe/Warsaw", []string{"pl-PL", "pl", "en"}, "pl-PL"},
	{"Europe/Madrid", []string{"es-ES", "es", "en"}, "es-ES"},
}

var coreCounts = []int{4, 6, 8, 12, 16}
var memoryGB = []int{8, 8, 16, 16, 32}
var dprValues = []float64{1, 1, 1, 1.25, 1.5}

// windowsFonts is the base font set every generated persona carries.
// It stays above the fonts_enough threshold with room to spare.
var windowsFonts = []string{
	"Arial", "Arial Black", "Bahnschrift", "Calibri", "Cambria",
	"Candara", "Comic Sans MS", "Consolas", "Constantia", "Corbel",
	"Courier New", "Ebrima", "Franklin Gothic Medium", "Gabriola",
	"Georgia", "Impact", "Lucida Console", "Lucida Sans Unicode",
	"Malgun Gothic", "Microsoft Sans Serif", "MS Gothic", "Segoe Print",
	"Segoe Script", "Segoe UI", "SimSun", "Sylfaen", "Tahoma",
	"Times New Roman", "Trebuchet MS", "Verdana", "Webdings", "Wingdings",
}

// Generator produces validated Windows personas.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator builds a generator from a seed. The same seed always
// yields the same sequence of personas.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate returns a persona that passes Windows plausibility
// validation. A validation failure here means the candidate pools are
// internally inconsistent, which is a programming error.
func (g *Generator) Generate() (*schemas.Persona, error) {
	p := g.candidate()
	if ok, reason := validator.ValidateWindowsPersona(p); !ok {
		return nil, eris.Errorf("persona: generated candidate failed validation: %s", reason)
	}
	return p, nil
}

func (g *Generator) candidate() *schemas.Persona {
	hw := g.pickGPU()
	loc := localePool[g.rng.Intn(len(localePool))]
	version := chromeVersions[g.rng.Intn(len(chromeVersions))]

	fonts := make([]string, len(windowsFonts))
	copy(fonts, windowsFonts)
	g.rng.Shuffle(len(fonts), func(i, j int) { fonts[i], fonts[j] = fonts[j], fonts[i] })
	fonts = fonts[:24+g.rng.Intn(len(fonts)-24)]

	return &schemas.Persona{
		UserAgent: fmt.Sprintf(
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36",
			version),
		Platform:  "Win32",
		OSCPU:     "Windows NT 10.0; Win64; x64",
		Languages: loc.languages,
		Timezone:  loc.timezone,
		Locale:    loc.locale,
		Screen: schemas.Screen{
			Width:       screenWidth,
			Height:      screenHeight,
			AvailWidth:  screenWidth,
			AvailHeight: screenHeight - chromeHeight,
			AvailLeft:   0,
			DPR:         dprValues[g.rng.Intn(len(dprValues))],
		},
		WebGL:               schemas.WebGL{Vendor: hw.vendor, Renderer: hw.renderer},
		HardwareConcurrency: coreCounts[g.rng.Intn(len(coreCounts))],
		DeviceMemoryGB:      memoryGB[g.rng.Intn(len(memoryGB))],
		Fonts:               fonts,
		NoiseSeed:           g.rng.Int63(),
	}
}

func (g *Generator) pickGPU() gpu {
	return gpuPool[g.rng.Intn(len(gpuPool))]
}

// RenderConfigBlob serializes a persona into the flat-key configuration
// blob format the checker and normalizer read.
func RenderConfigBlob(p *schemas.Persona) (string, error) {
	languages := make([]any, len(p.Languages))
	for i, l := range p.Languages {
		languages[i] = l
	}
	fonts := make([]any, len(p.Fonts))
	for i, f := range p.Fonts {
		fonts[i] = f
	}

	blob := map[string]any{
		"screen.width":                  p.Screen.Width,
		"screen.height":                 p.Screen.Height,
		"screen.availWidth":             p.Screen.AvailWidth,
		"screen.availHeight":            p.Screen.AvailHeight,
		"screen.availLeft":              p.Screen.AvailLeft,
		"window.devicePixelRatio":       p.Screen.DPR,
		"window.screenX":                0,
		"window.screenY":                0,
		"navigator.userAgent":           p.UserAgent,
		"navigator.platform":            p.Platform,
		"navigator.oscpu":               p.OSCPU,
		"navigator.languages":           languages,
		"navigator.hardwareConcurrency": p.HardwareConcurrency,
		"navigator.deviceMemory":        p.DeviceMemoryGB,
		"webgl.vendor":                  p.WebGL.Vendor,
		"webgl.renderer":                p.WebGL.Renderer,
		"canvas.hash":                   consistency.HashString(fmt.Sprintf("canvas|%s|%d", p.WebGL.Renderer, p.NoiseSeed)),
		"fonts":                         fonts,
		"timezone":                      p.Timezone,
		"locale":                        p.Locale,
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return "", eris.Wrap(err, "persona: failed to serialize config blob")
	}
	return string(data), nil
}
