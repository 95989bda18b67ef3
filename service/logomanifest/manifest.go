package logomanifest

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultLoopDuration is used when the manifest does not set one
const DefaultLoopDuration = 10 * time.Second

// LogoItem is one logo or banner asset
type LogoItem struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Type       string    `json:"type"`
	Checksum   string    `json:"checksum"`
	Priority   int       `json:"priority"`
	Active     bool      `json:"active"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Schedule restricts a set of logos to a daily time window. StartTime and
// EndTime are "15:04" in the billboard's local time; a window whose end is
// before its start runs past midnight. Empty Days means every day.
type Schedule struct {
	ID        string         `json:"id"`
	LogoIDs   []string       `json:"logoIds"`
	StartTime string         `json:"startTime"`
	EndTime   string         `json:"endTime"`
	Days      []time.Weekday `json:"days,omitempty"`
	Enabled   bool           `json:"enabled"`
}

// Settings controls how the banner rotates
type Settings struct {
	LogoMode string `json:"logoMode"`
	// LogoLoopDuration is seconds per logo
	LogoLoopDuration int        `json:"logoLoopDuration"`
	Schedules        []Schedule `json:"schedules"`
}

// LogoManifest is the versioned descriptor of every logo and the display
// settings
type LogoManifest struct {
	Version     string     `json:"version"`
	LastUpdated time.Time  `json:"lastUpdated"`
	Logos       []LogoItem `json:"logos"`
	Settings    Settings   `json:"settings"`
}

// Clone returns a deep copy
func (m LogoManifest) Clone() LogoManifest {
	out := m
	out.Logos = slices.Clone(m.Logos)
	out.Settings.Schedules = make([]Schedule, len(m.Settings.Schedules))
	for i, s := range m.Settings.Schedules {
		s.LogoIDs = slices.Clone(s.LogoIDs)
		s.Days = slices.Clone(s.Days)
		out.Settings.Schedules[i] = s
	}
	return out
}

// ActiveLogos returns the active logos in priority order
func (m LogoManifest) ActiveLogos() []LogoItem {
	var out []LogoItem
	for _, l := range m.Logos {
		if l.Active {
			out = append(out, l)
		}
	}
	return out
}

// Logo returns the logo with the given id
func (m LogoManifest) Logo(id string) (LogoItem, bool) {
	for _, l := range m.Logos {
		if l.ID == id {
			return l, true
		}
	}
	return LogoItem{}, false
}

// LoopDuration returns how long each logo is shown
func (m LogoManifest) LoopDuration() time.Duration {
	if m.Settings.LogoLoopDuration <= 0 {
		return DefaultLoopDuration
	}
	return time.Duration(m.Settings.LogoLoopDuration) * time.Second
}

// Normalize makes ids unique, keeping the last occurrence as if each later
// entry had replaced the earlier one, then sorts by priority. Equal
// priorities keep their relative order.
func Normalize(logos []LogoItem) []LogoItem {
	out := make([]LogoItem, 0, len(logos))
	for _, l := range logos {
		out = slices.DeleteFunc(out, func(e LogoItem) bool { return e.ID == l.ID })
		out = append(out, l)
	}
	slices.SortStableFunc(out, func(a, b LogoItem) int { return cmp.Compare(a.Priority, b.Priority) })
	return out
}

// Upsert replaces the logo with item's id, or adds it, keeping the manifest
// normalized
func (m *LogoManifest) Upsert(item LogoItem) {
	m.Logos = Normalize(append(slices.Clone(m.Logos), item))
}

// Remove deletes the logo with the given id and reports whether it existed
func (m *LogoManifest) Remove(id string) bool {
	n := len(m.Logos)
	m.Logos = slices.DeleteFunc(slices.Clone(m.Logos), func(l LogoItem) bool { return l.ID == id })
	return len(m.Logos) != n
}

// NextVersion returns "<major>.<minor>.<unixMillis>" keeping the major and
// minor of current (1.0 when it has none). The result always sorts after
// current when both carry the same major and minor.
func NextVersion(current string, now time.Time) string {
	major, minor, last := 1, 0, int64(0)
	parts := strings.Split(current, ".")
	if len(parts) == 3 {
		if v, err := strconv.Atoi(parts[0]); err == nil {
			major = v
		}
		if v, err := strconv.Atoi(parts[1]); err == nil {
			minor = v
		}
		if v, err := strconv.ParseInt(parts[2], 10, 64); err == nil {
			last = v
		}
	}
	stamp := now.UnixMilli()
	if stamp <= last {
		stamp = last + 1
	}
	return fmt.Sprintf("%d.%d.%d", major, minor, stamp)
}

// Covers reports whether the schedule is active at now
func (s Schedule) Covers(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if len(s.Days) > 0 && !slices.Contains(s.Days, now.Weekday()) {
		return false
	}

	start, okStart := minuteOfDay(s.StartTime)
	end, okEnd := minuteOfDay(s.EndTime)
	if !okStart || !okEnd {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func minuteOfDay(hhmm string) (int, bool) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
