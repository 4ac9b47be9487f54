// Package main generates the JSON schemas the store embeds for
// collection corruption detection, derived from the coordination model
// types so the guards never drift from the structs they protect.
//
// Usage:
//
//	go run ./tools/schemagen -o internal/store/schemas
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/swarmsh/swarmsh/internal/model"
)

// Schema is the subset of JSON Schema draft-07 the collection guards use.
type Schema struct {
	Schema     string             `json:"$schema,omitempty"`
	Title      string             `json:"title,omitempty"`
	Type       string             `json:"type,omitempty"`
	MinLength  int                `json:"minLength,omitempty"`
	Minimum    *float64           `json:"minimum,omitempty"`
	Maximum    *float64           `json:"maximum,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
}

// bounds pins the numeric range of one property.
type bounds struct {
	min *float64
	max *float64
}

// collection describes one persisted collection and the constraints its
// schema enforces beyond array-of-objects structure. The guards stay
// permissive on purpose: they reject lost identity fields and broken
// shapes, not unknown keys.
type collection struct {
	title    string
	sample   any
	required []string
	bounds   map[string]bounds
}

func limit(v float64) *float64 { return &v }

func collections() []collection {
	return []collection{
		{
			title:    "work_claims",
			sample:   model.WorkItem{},
			required: []string{"work_id", "status"},
			bounds: map[string]bounds{
				"progress_percent": {min: limit(0), max: limit(100)},
				"velocity_points":  {min: limit(0)},
			},
		},
		{
			title:    "agent_status",
			sample:   model.Agent{},
			required: []string{"agent_id", "status"},
			bounds: map[string]bounds{
				"capacity_max":     {min: limit(0)},
				"current_workload": {min: limit(0)},
			},
		},
		{
			title:    "coordination_log",
			sample:   model.LogEntry{},
			required: []string{"action", "recorded_at"},
		},
	}
}

func main() {
	outputDir := flag.String("o", "internal/store/schemas", "output directory for schemas")
	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory: %v\n", err)
		os.Exit(1)
	}

	for _, c := range collections() {
		payload, err := json.MarshalIndent(buildSchema(c), "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode %s schema: %v\n", c.title, err)
			os.Exit(1)
		}

		payload = append(payload, '\n')
		path := filepath.Join(*outputDir, c.title+".schema.json")

		if err := os.WriteFile(path, payload, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}

		fmt.Printf("wrote %s\n", path)
	}
}

// buildSchema reflects over the collection's element type and layers
// the explicit constraints on top.
func buildSchema(c collection) *Schema {
	items := &Schema{
		Type:       "object",
		Required:   c.required,
		Properties: map[string]*Schema{},
	}

	t := reflect.TypeOf(c.sample)

	for i := range t.NumField() {
		field := t.Field(i)

		name := jsonName(field)
		if name == "" {
			continue
		}

		prop := propertySchema(field.Type)

		// A required string field must also be non-empty: an item that
		// lost its identity is corruption, not data.
		if field.Type.Kind() == reflect.String && slices.Contains(c.required, name) {
			prop.MinLength = 1
		}

		if b, ok := c.bounds[name]; ok {
			prop.Minimum = b.min
			prop.Maximum = b.max
		}

		items.Properties[name] = prop
	}

	return &Schema{
		Schema: "http://json-schema.org/draft-07/schema#",
		Title:  c.title,
		Type:   "array",
		Items:  items,
	}
}

var timeType = reflect.TypeOf(model.Time{})

// propertySchema maps a Go field type onto its persisted JSON type.
func propertySchema(t reflect.Type) *Schema {
	if t == timeType {
		// model.Time marshals to an ISO-8601 string.
		return &Schema{Type: "string"}
	}

	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Map, reflect.Struct:
		return &Schema{Type: "object"}
	case reflect.Slice, reflect.Array:
		return &Schema{Type: "array"}
	default:
		return &Schema{}
	}
}

// jsonName extracts the persisted property name from a struct field.
func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return ""
	}

	name, _, _ := strings.Cut(tag, ",")

	return name
}
