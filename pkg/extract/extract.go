// Package extract normalizes the inconsistent payload encodings emitted by
// IoT gateways into a single numeric reading.
//
// A payload may be a bare number, a JSON object keyed by one of several value
// aliases, a string carrying a stray "+" from a broken upstream encoder, a
// string using "," as the decimal separator, or free text with a number in it.
// Extraction walks an ordered list of strategies and the first finite result
// wins. It never panics and never returns NaN or Inf.
package extract

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ValueKeys are probed in order when the payload is a JSON object
var ValueKeys = []string{"current_value_only", "current_value", "value", "data"}

// maxDepth bounds recursion into nested objects
const maxDepth = 4

var numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// Result describes a successful or failed extraction
type Result struct {
	Value    float64
	OK       bool
	Strategy string
}

// Strategy is one step of the ordered extraction pipeline
type Strategy struct {
	Name  string
	Apply func(e *Extractor, v any, depth int) (float64, bool)
}

// Strategies is the ordered pipeline; the first strategy returning ok wins.
// It is populated in init because the object strategy recurses into it.
var Strategies []Strategy

func init() {
	Strategies = []Strategy{
		{Name: "number", Apply: fromNumber},
		{Name: "object", Apply: fromObject},
		{Name: "plus", Apply: fromPlus},
		{Name: "comma", Apply: fromComma},
		{Name: "pattern", Apply: fromPattern},
	}
}

// Extractor runs the strategy pipeline and logs payloads it cannot read
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger.With("component", "extract")}
}

// Value extracts a number from an already-decoded payload, logging to slog.Default()
func Value(field string, payload any) (float64, bool) {
	r := New(nil).Extract(field, payload)
	return r.Value, r.OK
}

// FromBytes extracts a number from a raw wire payload, logging to slog.Default()
func FromBytes(field string, raw []byte) (float64, bool) {
	r := New(nil).ExtractBytes(field, raw)
	return r.Value, r.OK
}

// ExtractBytes decodes raw as JSON when it is valid JSON and otherwise treats
// it as a plain string before running the pipeline.
func (e *Extractor) ExtractBytes(field string, raw []byte) Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		e.logger.Warn("Empty payload", "field", field)
		return Result{}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err == nil && !dec.More() {
		return e.Extract(field, decoded)
	}
	return e.Extract(field, string(trimmed))
}

// Extract runs the strategy pipeline against payload
func (e *Extractor) Extract(field string, payload any) Result {
	if r := e.run(payload, 0); r.OK {
		return r
	}
	e.logger.Warn("Could not extract numeric value", "field", field, "payload", describe(payload))
	return Result{}
}

func (e *Extractor) run(v any, depth int) Result {
	if depth > maxDepth || v == nil {
		return Result{}
	}
	for _, s := range Strategies {
		if f, ok := s.Apply(e, v, depth); ok {
			return Result{Value: f, OK: true, Strategy: s.Name}
		}
	}
	return Result{}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func parse(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	return f, true
}

func fromNumber(_ *Extractor, v any, _ int) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, finite(f)
}

func fromObject(e *Extractor, v any, depth int) (float64, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}

	for _, key := range ValueKeys {
		inner, exists := obj[key]
		if !exists {
			continue
		}
		if r := e.run(inner, depth+1); r.OK {
			return r.Value, true
		}
	}

	// {"v1": "23.5+"} style payloads carry one arbitrary key
	if len(obj) == 1 {
		for _, inner := range obj {
			switch inner.(type) {
			case map[string]any, []any, bool:
				return 0, false
			}
			if r := e.run(inner, depth+1); r.OK {
				return r.Value, true
			}
		}
	}
	return 0, false
}

func fromPlus(_ *Extractor, v any, _ int) (float64, bool) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, "+") {
		return 0, false
	}

	idx := strings.Index(s, "+")
	candidates := []string{
		strings.ReplaceAll(s, "+", ""),
		s,
		s[:idx],
		s[idx+1:],
	}
	for _, c := range candidates {
		if f, ok := parse(c); ok {
			return f, true
		}
	}
	return 0, false
}

func fromComma(_ *Extractor, v any, _ int) (float64, bool) {
	s, ok := v.(string)
	if !ok || !strings.Contains(s, ",") {
		return 0, false
	}
	return parse(strings.ReplaceAll(s, ",", "."))
}

func fromPattern(_ *Extractor, v any, _ int) (float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	m := numberPattern.FindString(s)
	if m == "" {
		return 0, false
	}
	return parse(m)
}

func describe(v any) string {
	switch p := v.(type) {
	case string:
		return p
	case nil:
		return "null"
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return "unprintable"
		}
		return string(b)
	}
}
