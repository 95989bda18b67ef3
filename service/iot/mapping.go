package iot

import "strings"

// keywords maps well-known topic segments to fields
var keywords = map[string]Field{
	"temperature": FieldTemperature,
	"humidity":    FieldHumidity,
	"pm25":        FieldPM25,
	"pm2_5":       FieldPM25,
	"pm2.5":       FieldPM25,
	"pm10":        FieldPM10,
}

// FieldForTopic resolves the sensor field a topic carries. A path segment equal
// to a configured config ID wins; otherwise a segment equal to a well-known
// keyword is used. Matching is by whole segment, so config ID 1389 never
// matches a topic for 13899.
func FieldForTopic(topic string, configIDs map[Field]string) (Field, bool) {
	segments := strings.Split(topic, "/")

	for _, f := range Fields {
		id := strings.TrimSpace(configIDs[f])
		if id == "" {
			continue
		}
		for _, seg := range segments {
			if seg == id {
				return f, true
			}
		}
	}

	for _, seg := range segments {
		if f, ok := keywords[strings.ToLower(seg)]; ok {
			return f, true
		}
	}
	return "", false
}
