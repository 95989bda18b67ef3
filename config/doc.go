// Package config loads the billboard-sync process configuration.
//
// Configuration is built in layers: built-in defaults, then each file added
// with AddLayer in order (JSON or YAML, chosen by extension), then
// BILLBOARD_* environment variables. File layers merge key by key, so a
// production layer only needs the values it changes. Duration fields accept
// Go duration strings ("30s", "5m") or day counts ("1d").
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/billboard.yaml")
//	loader.AddLayer("configs/site.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Environment overrides:
//
//	BILLBOARD_IOT_AUTH_TOKEN      gateway token (<username>:<password>)
//	BILLBOARD_IOT_BROKER_URL      MQTT broker URL
//	BILLBOARD_WEATHER_CITY        display city
//	BILLBOARD_WEATHER_LATITUDE    forecast latitude
//	BILLBOARD_WEATHER_LONGITUDE   forecast longitude
//	BILLBOARD_WEATHER_BASE_URL    Open-Meteo base URL
//	BILLBOARD_BANNER_TIMEZONE     zone banner schedules are read in
//	BILLBOARD_LOGO_MANIFEST_URL   manifest document URL
//	BILLBOARD_LOGO_CACHE_DIR      local logo asset directory
//	BILLBOARD_NATS_URL            NATS server URL
//	BILLBOARD_NATS_ENABLED        publish events to NATS
//	BILLBOARD_WEBSOCKET_ENABLED   serve the display WebSocket
//	BILLBOARD_WEBSOCKET_PORT      WebSocket port
//	BILLBOARD_METRICS_PORT        Prometheus port, 0 disables
//	BILLBOARD_HEALTH_PORT         health endpoint port
//
// Config files are limited to 10MB and must not escape the working directory
// through parent references. SafeConfig shares a validated Config between
// goroutines; Get always returns a copy.
package config
