package weather

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/c360/billboard/errors"
)

// hourlyFields are requested from the hourly forecast
var hourlyFields = []string{
	"relativehumidity_2m",
	"apparent_temperature",
	"uv_index",
	"precipitation_probability",
	"visibility",
}

// forecastURL builds the Open-Meteo forecast request
func forecastURL(cfg Config) (string, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", errors.WrapInvalid(fmt.Errorf("%w: base url %q", errors.ErrInvalidConfig, cfg.BaseURL),
			"WeatherService", "forecastURL", "parse base url")
	}
	base.Path += "/v1/forecast"

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(cfg.Longitude, 'f', -1, 64))
	q.Set("current_weather", "true")
	q.Set("hourly", strings.Join(hourlyFields, ","))
	q.Set("timezone", cfg.Timezone)
	q.Set("forecast_days", "1")
	base.RawQuery = q.Encode()
	return base.String(), nil
}

type currentWeather struct {
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"windspeed"`
	WeatherCode int     `json:"weathercode"`
	Time        string  `json:"time"`
}

type hourlyForecast struct {
	Time                     []string   `json:"time"`
	RelativeHumidity         []*float64 `json:"relativehumidity_2m"`
	ApparentTemperature      []*float64 `json:"apparent_temperature"`
	UVIndex                  []*float64 `json:"uv_index"`
	PrecipitationProbability []*float64 `json:"precipitation_probability"`
	Visibility               []*float64 `json:"visibility"`
}

type forecastResponse struct {
	CurrentWeather *currentWeather `json:"current_weather"`
	Hourly         hourlyForecast  `json:"hourly"`
}

// hourIndex finds the hourly entry for the local hour of now, falling back to
// the hour of day when the time axis does not contain it
func (h hourlyForecast) hourIndex(now time.Time) int {
	key := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location()).Format("2006-01-02T15:04")
	for i, ts := range h.Time {
		if ts == key {
			return i
		}
	}
	return now.Hour()
}

func at(values []*float64, i int, def float64) float64 {
	if i < 0 || i >= len(values) || values[i] == nil {
		return def
	}
	return *values[i]
}

// snapshot converts a forecast into a snapshot for the local time now
func (r forecastResponse) snapshot(city string, now time.Time) (WeatherSnapshot, error) {
	if r.CurrentWeather == nil {
		return WeatherSnapshot{}, errors.WrapInvalid(fmt.Errorf("%w: missing current_weather", errors.ErrInvalidData),
			"WeatherService", "snapshot", "read forecast")
	}

	i := r.Hourly.hourIndex(now)
	s := WeatherSnapshot{
		CityName:        city,
		Temperature:     r.CurrentWeather.Temperature,
		FeelsLike:       at(r.Hourly.ApparentTemperature, i, r.CurrentWeather.Temperature),
		Humidity:        at(r.Hourly.RelativeHumidity, i, FallbackHumidity),
		WindSpeed:       r.CurrentWeather.WindSpeed,
		UVIndex:         at(r.Hourly.UVIndex, i, 0),
		RainProbability: at(r.Hourly.PrecipitationProbability, i, 0),
		WeatherCode:     r.CurrentWeather.WeatherCode,
		Visibility:      at(r.Hourly.Visibility, i, FallbackVisibility),
		LastUpdated:     now,
	}
	s.derive()
	return s, nil
}
