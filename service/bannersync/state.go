package bannersync

import (
	"slices"
	"time"

	"github.com/c360/billboard/service/logomanifest"
)

// Display modes
const (
	ModeLoop   = "loop"
	ModeSingle = "single"
)

// BannerState is what the banner slot is showing
type BannerState struct {
	ManifestVersion string                  `json:"manifestVersion"`
	Mode            string                  `json:"mode"`
	LoopDuration    time.Duration           `json:"loopDuration"`
	Rotation        []logomanifest.LogoItem `json:"rotation"`
	CurrentIndex    int                     `json:"currentIndex"`
	Current         *logomanifest.LogoItem  `json:"current,omitempty"`
	CurrentPath     string                  `json:"currentPath,omitempty"`
	LastUpdated     time.Time               `json:"lastUpdated"`
}

// Clone returns a deep copy
func (b BannerState) Clone() BannerState {
	out := b
	out.Rotation = slices.Clone(b.Rotation)
	if b.Current != nil {
		c := *b.Current
		out.Current = &c
	}
	return out
}

// Rotation returns the logos to cycle through at now, in priority order. A
// logo named by an enabled schedule is shown only while one of those
// schedules covers now; logos no enabled schedule names are always shown.
func Rotation(m logomanifest.LogoManifest, now time.Time) []logomanifest.LogoItem {
	scheduled := make(map[string]bool)
	covered := make(map[string]bool)
	for _, s := range m.Settings.Schedules {
		if !s.Enabled {
			continue
		}
		on := s.Covers(now)
		for _, id := range s.LogoIDs {
			scheduled[id] = true
			if on {
				covered[id] = true
			}
		}
	}

	var out []logomanifest.LogoItem
	for _, l := range m.ActiveLogos() {
		if scheduled[l.ID] && !covered[l.ID] {
			continue
		}
		out = append(out, l)
	}
	return out
}

func mode(m logomanifest.LogoManifest) string {
	if m.Settings.LogoMode == ModeSingle {
		return ModeSingle
	}
	return ModeLoop
}

// indexOf finds id in rotation, or returns 0
func indexOf(rotation []logomanifest.LogoItem, id string) int {
	if i := slices.IndexFunc(rotation, func(l logomanifest.LogoItem) bool { return l.ID == id }); i >= 0 {
		return i
	}
	return 0
}
