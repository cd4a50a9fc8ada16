// Package render provides centralized output rendering for the wsfs CLI.
//
// Format selection rules:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format flag always overrides defaults
//   - Invalid formats are errors
//
// JSON and YAML share field names: YAML output is produced from the JSON
// form so that json struct tags name every key.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format Format
	out    io.Writer
}

// NewRenderer creates a renderer from the --format flag writing to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	return NewRendererFor(c.String("format"), os.Stdout)
}

// NewRendererFor creates a renderer for a format string. An empty format
// picks table for a terminal and json otherwise.
func NewRendererFor(format string, out *os.File) (*Renderer, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if f == "" {
		if isTTY(out) {
			f = FormatTable
		} else {
			f = FormatJSON
		}
	}
	return &Renderer{format: f, out: out}, nil
}

// NewRendererWithWriter creates a renderer with a custom writer (for testing).
func NewRendererWithWriter(format Format, out io.Writer) *Renderer {
	return &Renderer{format: format, out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format {
	return r.format
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return err
	}

	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(normalizeNumbers(generic)); err != nil {
		return err
	}
	return enc.Close()
}

// normalizeNumbers replaces json.Number with int64 or float64 so YAML
// prints integers without exponents.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

func (r *Renderer) renderTable(data any) error {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice {
		return r.renderSliceTable(v)
	}
	return r.renderStructTable(v)
}

func (r *Renderer) renderSliceTable(v reflect.Value) error {
	if v.Len() == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headers := sliceHeaders(v)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for i := 0; i < v.Len(); i++ {
		fmt.Fprintln(w, strings.Join(rowValues(v.Index(i), headers), "\t"))
	}
	return nil
}

func (r *Renderer) renderStructTable(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	v = indirect(v)
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			name, ok := fieldName(t.Field(i))
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s:\t%s\n", name, formatValue(v.Field(i)))
		}
	case reflect.Map:
		for _, key := range sortedKeys(v) {
			fmt.Fprintf(w, "%s:\t%s\n", key, formatValue(mapIndex(v, key)))
		}
	case reflect.Invalid:
		fmt.Fprintln(w, "(empty)")
	default:
		fmt.Fprintf(w, "%v\n", v.Interface())
	}
	return nil
}

// sliceHeaders returns struct field names of the first element, or the
// sorted union of keys when elements are maps.
func sliceHeaders(v reflect.Value) []string {
	first := indirect(v.Index(0))
	switch first.Kind() {
	case reflect.Struct:
		var headers []string
		t := first.Type()
		for i := 0; i < t.NumField(); i++ {
			if name, ok := fieldName(t.Field(i)); ok {
				headers = append(headers, name)
			}
		}
		return headers
	case reflect.Map:
		seen := make(map[string]struct{})
		for i := 0; i < v.Len(); i++ {
			for _, k := range sortedKeys(indirect(v.Index(i))) {
				seen[k] = struct{}{}
			}
		}
		headers := make([]string, 0, len(seen))
		for k := range seen {
			headers = append(headers, k)
		}
		sort.Strings(headers)
		return headers
	default:
		return []string{"value"}
	}
}

func rowValues(v reflect.Value, headers []string) []string {
	v = indirect(v)
	var values []string
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if _, ok := fieldName(t.Field(i)); ok {
				values = append(values, formatValue(v.Field(i)))
			}
		}
	case reflect.Map:
		for _, h := range headers {
			values = append(values, formatValue(mapIndex(v, h)))
		}
	default:
		values = append(values, formatValue(v))
	}
	return values
}

// fieldName prefers the json tag name. Unexported and json:"-" fields are skipped.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return "", false
		}
		if name != "" {
			return name, true
		}
	}
	return strings.ToLower(f.Name), true
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	timeType     = reflect.TypeOf(time.Time{})
)

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}

	switch {
	case v.Type() == durationType:
		return time.Duration(v.Int()).String()
	case v.Type() == timeType:
		return v.Interface().(time.Time).Format(time.RFC3339)
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		keys := sortedKeys(v)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+formatValue(mapIndex(v, k)))
		}
		return strings.Join(parts, " ")
	case reflect.Struct:
		return "{...}"
	case reflect.Float32, reflect.Float64:
		return fmt.Sprintf("%g", v.Float())
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// sortedKeys returns the string keys of a map value in order.
// Maps with non-string keys yield nil.
func sortedKeys(v reflect.Value) []string {
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return nil
	}
	keys := make([]string, 0, v.Len())
	for _, k := range v.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys
}

func mapIndex(v reflect.Value, key string) reflect.Value {
	return v.MapIndex(reflect.ValueOf(key).Convert(v.Type().Key()))
}

func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// isTTY returns true if the file is a terminal.
func isTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
