// Package weather implements the weather service: Open-Meteo polled through
// an httppoll.Poller, conditions and air quality derived from fixed tables,
// and fallback defaults whenever no live forecast is available.
package weather
