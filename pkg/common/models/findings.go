package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var errFindingsNotObject = errors.New("findings must be a JSON object")

// Finding is one label/value pair reported by the analysis service.
type Finding struct {
	Label string
	Value interface{}
}

// Findings is an open label->value mapping that keeps the order the
// analysis service emitted the labels in.
type Findings []Finding

func (f Findings) Get(label string) (interface{}, bool) {
	for _, item := range f {
		if item.Label == label {
			return item.Value, true
		}
	}
	return nil, false
}

// Set replaces the value of an existing label or appends a new one.
func (f Findings) Set(label string, value interface{}) Findings {
	for i := range f {
		if f[i].Label == label {
			f[i].Value = value
			return f
		}
	}
	return append(f, Finding{Label: label, Value: value})
}

// Text flattens the findings to "label: value" lines. A nil mapping renders as "--".
func (f Findings) Text() string {
	if f == nil {
		return "--"
	}
	lines := make([]string, 0, len(f))
	for _, item := range f {
		lines = append(lines, item.Label+": "+FormatValue(item.Value))
	}
	return strings.Join(lines, "\n")
}

func (f Findings) Clone() Findings {
	if f == nil {
		return nil
	}
	out := make(Findings, len(f))
	for i, item := range f {
		out[i] = Finding{Label: item.Label, Value: cloneValue(item.Value)}
	}
	return out
}

func (f Findings) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Label)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(item.Value)
		if err != nil {
			return nil, fmt.Errorf("finding %q: %w", item.Label, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (f *Findings) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*f = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errFindingsNotObject
	}

	out := Findings{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return errFindingsNotObject
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("finding %q: %w", label, err)
		}
		out = out.Set(label, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = out
	return nil
}

// FormatValue renders a finding value the way it is shown to the operator.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}
