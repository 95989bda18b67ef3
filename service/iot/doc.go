// Package iot implements the IoT sensor service: one MQTT session scoped to
// the gateway token, topic to field resolution, defensive value extraction and
// a single SensorSnapshot fanned out to subscribers.
//
// While connected the service re-publishes the current snapshot every
// UpdateInterval with a refreshed LastUpdated so "last seen" displays stay
// live between gateway messages.
package iot
