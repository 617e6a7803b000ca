// Package warmup plans staggered warm-up activity for new profiles and
// records plans and outcomes in a SQLite database. It stops at
// planning and reporting; executing actions against any real platform
// is out of scope.
package warmup

import (
	"math/rand"
)

// Personality shapes how a profile behaves during warm-up: its tone,
// activity budget and waking hours.
type Personality struct {
	Tone           string   `json:"tone"`
	EmojiUsage     int      `json:"emoji_usage"`
	Interests      []string `json:"interests"`
	ActivityLevel  string   `json:"activity_level"`
	Timezone       string   `json:"timezone"`
	SleepStartHour int      `json:"sleep_start_hour"`
	SleepEndHour   int      `json:"sleep_end_hour"`
	MessageStyle   string   `json:"message_style"`
}

type toneConfig struct {
	emojiMin, emojiMax int
	messageStyle       string
	interests          []string
}

var tones = map[string]toneConfig{
	"casual":   {40, 70, "relaxed", []string{"fitness", "travel", "food", "lifestyle", "sport"}},
	"friendly": {60, 90, "warm", []string{"life", "fun", "people", "stories", "lifestyle"}},
	"sporty":   {30, 60, "motivational", []string{"fitness", "sports", "gym", "training", "health"}},
	"formal":   {0, 20, "professional", []string{"business", "tech", "career", "growth", "innovation"}},
}

var toneNames = []string{"casual", "friendly", "sporty", "formal"}

var interestPool = []string{
	"fitness", "travel", "food", "gaming", "tech",
	"photography", "fashion", "music", "sport", "cars",
	"cooking", "lifestyle", "wellness", "health", "art",
	"culture", "film", "series", "books", "writing",
}

var activityLevels = []string{"low", "medium", "high"}

// GeneratePersonality draws a random personality. The rng is injected
// so plans can be reproduced under test.
func GeneratePersonality(rng *rand.Rand, timezone string) Personality {
	tone := toneNames[rng.Intn(len(toneNames))]
	cfg := tones[tone]

	picked := rng.Perm(len(interestPool))[:2+rng.Intn(3)]
	interests := make([]string, len(picked))
	for i, idx := range picked {
		interests[i] = interestPool[idx]
	}

	return Personality{
		Tone:           tone,
		EmojiUsage:     cfg.emojiMin + rng.Intn(cfg.emojiMax-cfg.emojiMin+1),
		Interests:      interests,
		ActivityLevel:  activityLevels[rng.Intn(len(activityLevels))],
		Timezone:       timezone,
		SleepStartHour: 22 + rng.Intn(3),
		SleepEndHour:   7 + rng.Intn(3),
		MessageStyle:   cfg.messageStyle,
	}
}

// AwakeAt reports whether the persona is awake at the given local hour.
// The sleep window may wrap past midnight.
func (p Personality) AwakeAt(hour int) bool {
	start := p.SleepStartHour % 24
	end := p.SleepEndHour % 24
	if start == end {
		return true
	}
	if start < end {
		return !(start <= hour && hour < end)
	}
	return !(hour >= start || hour < end)
}

// ActionRange returns the per-session action budget bounds for an
// activity level. Unknown levels fall back to medium.
func ActionRange(level string) (min, max int) {
	switch level {
	case "low":
		return 3, 8
	case "high":
		return 15, 25
	default:
		return 8, 15
	}
}
