package iot

import (
	"strings"
	"time"
)

// Field names one of the four sensor readings
type Field string

// Sensor fields
const (
	FieldTemperature Field = "temperature"
	FieldHumidity    Field = "humidity"
	FieldPM25        Field = "pm25"
	FieldPM10        Field = "pm10"
)

// Fields lists every sensor field in display order
var Fields = []Field{FieldTemperature, FieldHumidity, FieldPM25, FieldPM10}

// SensorStatus classifies how complete a snapshot is
type SensorStatus string

// Snapshot statuses
const (
	StatusSuccess SensorStatus = "success"
	StatusPartial SensorStatus = "partial"
	StatusError   SensorStatus = "error"
)

// SensorSnapshot is the last known set of sensor readings. A nil reading has
// not been received or could not be parsed.
type SensorSnapshot struct {
	Temperature  *float64     `json:"temperature"`
	Humidity     *float64     `json:"humidity"`
	PM25         *float64     `json:"pm25"`
	PM10         *float64     `json:"pm10"`
	LastUpdated  time.Time    `json:"last_updated"`
	Status       SensorStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// NewSnapshot returns the empty snapshot a service starts with
func NewSnapshot() SensorSnapshot {
	s := SensorSnapshot{}
	s.recompute()
	return s
}

// Get returns the reading for f
func (s SensorSnapshot) Get(f Field) *float64 {
	switch f {
	case FieldTemperature:
		return s.Temperature
	case FieldHumidity:
		return s.Humidity
	case FieldPM25:
		return s.PM25
	case FieldPM10:
		return s.PM10
	default:
		return nil
	}
}

// Count returns how many readings are present
func (s SensorSnapshot) Count() int {
	n := 0
	for _, f := range Fields {
		if s.Get(f) != nil {
			n++
		}
	}
	return n
}

// Clone returns a deep copy that shares no pointers with s
func (s SensorSnapshot) Clone() SensorSnapshot {
	out := s
	out.Temperature = copyFloat(s.Temperature)
	out.Humidity = copyFloat(s.Humidity)
	out.PM25 = copyFloat(s.PM25)
	out.PM10 = copyFloat(s.PM10)
	return out
}

// set stores v under f and recomputes the status
func (s *SensorSnapshot) set(f Field, v *float64) {
	switch f {
	case FieldTemperature:
		s.Temperature = v
	case FieldHumidity:
		s.Humidity = v
	case FieldPM25:
		s.PM25 = v
	case FieldPM10:
		s.PM10 = v
	}
	s.recompute()
}

// recompute derives Status and ErrorMessage from the readings
func (s *SensorSnapshot) recompute() {
	var missing []string
	for _, f := range Fields {
		if s.Get(f) == nil {
			missing = append(missing, string(f))
		}
	}

	switch len(missing) {
	case 0:
		s.Status = StatusSuccess
		s.ErrorMessage = ""
	case len(Fields):
		s.Status = StatusError
		s.ErrorMessage = "no sensor readings available"
	default:
		s.Status = StatusPartial
		s.ErrorMessage = "missing " + strings.Join(missing, ", ")
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
