package schemas

// Persona is the simulated device identity rendered into a profile's
// configuration blob at creation time.
type Persona struct {
	UserAgent           string   `json:"user_agent"`
	Platform            string   `json:"platform"`
	OSCPU               string   `json:"oscpu,omitempty"`
	Languages           []string `json:"languages"`
	Timezone            string   `json:"timezone"`
	Locale              string   `json:"locale,omitempty"`
	Screen              Screen   `json:"screen"`
	WebGL               WebGL    `json:"webgl"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	DeviceMemoryGB      int      `json:"device_memory_gb"`
	Fonts               []string `json:"fonts,omitempty"`
	NoiseSeed           int64    `json:"noise_seed,omitempty"`
}

// Screen holds the simulated display geometry.
type Screen struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AvailWidth  int     `json:"avail_width"`
	AvailHeight int     `json:"avail_height"`
	AvailLeft   int     `json:"avail_left"`
	DPR         float64 `json:"dpr"`
}

// WebGL holds the simulated GPU identity.
type WebGL struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
}
