package testutil

import (
	"fmt"
	"strings"
	"time"
)

// OpenMeteoResponse returns a forecast body in the Open-Meteo shape with 24
// hourly entries for the given local day. Hour h carries humidity 60+h,
// apparent temperature 30+h/10, uv h/2, rain probability h and visibility
// 10000-h*100.
func OpenMeteoResponse(day time.Time, temperature, windSpeed float64, weatherCode int) []byte {
	times := make([]string, 24)
	humidity := make([]string, 24)
	apparent := make([]string, 24)
	uv := make([]string, 24)
	rain := make([]string, 24)
	visibility := make([]string, 24)
	for h := 0; h < 24; h++ {
		ts := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, day.Location())
		times[h] = fmt.Sprintf("%q", ts.Format("2006-01-02T15:04"))
		humidity[h] = fmt.Sprintf("%d", 60+h)
		apparent[h] = fmt.Sprintf("%.1f", 30+float64(h)/10)
		uv[h] = fmt.Sprintf("%.1f", float64(h)/2)
		rain[h] = fmt.Sprintf("%d", h)
		visibility[h] = fmt.Sprintf("%d", 10000-h*100)
	}

	return []byte(fmt.Sprintf(`{
  "latitude": 10.82,
  "longitude": 106.63,
  "timezone": "Asia/Ho_Chi_Minh",
  "current_weather": {"temperature": %g, "windspeed": %g, "weathercode": %d, "time": %q},
  "hourly": {
    "time": [%s],
    "relativehumidity_2m": [%s],
    "apparent_temperature": [%s],
    "uv_index": [%s],
    "precipitation_probability": [%s],
    "visibility": [%s]
  }
}`, temperature, windSpeed, weatherCode, day.Format("2006-01-02T15:04"),
		strings.Join(times, ","), strings.Join(humidity, ","), strings.Join(apparent, ","),
		strings.Join(uv, ","), strings.Join(rain, ","), strings.Join(visibility, ",")))
}

// LogoManifestJSON returns a manifest document with the given version. Logos
// are listed out of priority order so normalization can be observed. baseURL
// prefixes every asset URL.
func LogoManifestJSON(version, baseURL string) []byte {
	return []byte(fmt.Sprintf(`{
  "version": %q,
  "lastUpdated": "2026-03-01T08:00:00Z",
  "logos": [
    {"id": "logo-b", "name": "Partner B", "url": "%s/logo-b.png", "filename": "logo-b.png",
     "size": 5, "type": "image/png", "checksum": "", "priority": 2, "active": true,
     "uploadedAt": "2026-02-01T00:00:00Z"},
    {"id": "logo-a", "name": "Partner A", "url": "%s/logo-a.png", "filename": "logo-a.png",
     "size": 5, "type": "image/png", "checksum": "", "priority": 1, "active": true,
     "uploadedAt": "2026-02-01T00:00:00Z"},
    {"id": "logo-c", "name": "Retired", "url": "%s/logo-c.png", "filename": "logo-c.png",
     "size": 5, "type": "image/png", "checksum": "", "priority": 3, "active": false,
     "uploadedAt": "2026-02-01T00:00:00Z"}
  ],
  "settings": {
    "logoMode": "loop",
    "logoLoopDuration": 10,
    "schedules": []
  }
}`, version, baseURL, baseURL, baseURL))
}
