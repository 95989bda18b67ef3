package weather

import "time"

// Fallback values used before the first successful fetch
const (
	FallbackTemperature     = 25.0
	FallbackFeelsLike       = 27.0
	FallbackHumidity        = 70.0
	FallbackWindSpeed       = 5.0
	FallbackUVIndex         = 5.0
	FallbackRainProbability = 20.0
	FallbackWeatherCode     = 1
	FallbackVisibility      = 10000.0
)

// WeatherSnapshot is the current weather for one city. It is replaced
// wholesale on every successful fetch.
type WeatherSnapshot struct {
	CityName         string    `json:"city_name"`
	Temperature      float64   `json:"temperature"`
	FeelsLike        float64   `json:"feels_like"`
	Humidity         float64   `json:"humidity"`
	WindSpeed        float64   `json:"wind_speed"`
	UVIndex          float64   `json:"uv_index"`
	RainProbability  float64   `json:"rain_probability"`
	WeatherCondition string    `json:"weather_condition"`
	WeatherCode      int       `json:"weather_code"`
	AirQuality       string    `json:"air_quality"`
	AQI              int       `json:"aqi"`
	Visibility       float64   `json:"visibility"`
	LastUpdated      time.Time `json:"last_updated"`
	IsFallback       bool      `json:"is_fallback"`
}

// Fallback returns the default snapshot shown when no forecast is available
func Fallback(city string, now time.Time) WeatherSnapshot {
	s := WeatherSnapshot{
		CityName:        city,
		Temperature:     FallbackTemperature,
		FeelsLike:       FallbackFeelsLike,
		Humidity:        FallbackHumidity,
		WindSpeed:       FallbackWindSpeed,
		UVIndex:         FallbackUVIndex,
		RainProbability: FallbackRainProbability,
		WeatherCode:     FallbackWeatherCode,
		Visibility:      FallbackVisibility,
		LastUpdated:     now,
		IsFallback:      true,
	}
	s.derive()
	return s
}

// derive fills the fields computed from WeatherCode and Visibility
func (s *WeatherSnapshot) derive() {
	s.WeatherCondition = Condition(s.WeatherCode)
	s.AQI = AQI(s.Visibility, s.WeatherCode)
	s.AirQuality = AirQuality(s.AQI)
}

// WMO weather interpretation codes
var conditions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	56: "Light freezing drizzle",
	57: "Dense freezing drizzle",
	61: "Slight rain",
	63: "Moderate rain",
	65: "Heavy rain",
	66: "Light freezing rain",
	67: "Heavy freezing rain",
	71: "Slight snow fall",
	73: "Moderate snow fall",
	75: "Heavy snow fall",
	77: "Snow grains",
	80: "Slight rain showers",
	81: "Moderate rain showers",
	82: "Violent rain showers",
	85: "Slight snow showers",
	86: "Heavy snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with slight hail",
	99: "Thunderstorm with heavy hail",
}

// Condition maps a WMO weather code to its description
func Condition(code int) string {
	if c, ok := conditions[code]; ok {
		return c
	}
	return "Unknown"
}

// Air quality levels, indexed by AQI-1
var airQualityLevels = []string{"good", "fair", "moderate", "poor", "very_poor"}

// AQI estimates a 1..5 air quality index from visibility in metres. Fog and
// thunderstorm codes raise it by one.
func AQI(visibility float64, code int) int {
	var aqi int
	switch {
	case visibility >= 10000:
		aqi = 1
	case visibility >= 5000:
		aqi = 2
	case visibility >= 2000:
		aqi = 3
	case visibility >= 1000:
		aqi = 4
	default:
		aqi = 5
	}
	if code == 45 || code == 48 || (code >= 95 && code <= 99) {
		aqi++
	}
	return min(aqi, 5)
}

// AirQuality returns the label for an AQI value
func AirQuality(aqi int) string {
	if aqi < 1 || aqi > len(airQualityLevels) {
		return "unknown"
	}
	return airQualityLevels[aqi-1]
}
