package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
)

// Marshal encodes a document as compact JSON, preserving field order.
func Marshal(d *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalValue encodes any Value as compact JSON.
func MarshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a JSON object into a Document, preserving field order.
func Unmarshal(data []byte) (*Document, error) {
	v, err := UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	d, ok := v.(*Document)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %s", TypeName(v))
	}
	return d, nil
}

// UnmarshalValue decodes any JSON value into the Value set.
func UnmarshalValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

// MustParse decodes a JSON object and panics on error. Intended for tests
// and static fixtures.
func MustParse(s string) *Document {
	d, err := Unmarshal([]byte(s))
	if err != nil {
		panic(fmt.Sprintf("document.MustParse(%q): %v", s, err))
	}
	return d
}

// MarshalJSON implements json.Marshaler.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	return Marshal(d)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := Unmarshal(data)
	if err != nil {
		return err
	}
	d.fields = parsed.fields
	return nil
}

func readValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return readObject(dec)
		case '[':
			return readArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %s: %w", t, err)
		}
		return f, nil
	case string, bool, nil:
		return t, nil
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}

func readObject(dec *json.Decoder) (*Document, error) {
	d := &Document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		v, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		if i := d.index(key); i >= 0 {
			d.fields[i].Value = v
			continue
		}
		d.fields = append(d.fields, Field{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return d, nil
}

func readArray(dec *json.Decoder) ([]any, error) {
	out := []any{}
	for dec.More() {
		v, err := readValue(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(x))
	case float64:
		buf.WriteString(FormatNumber(x))
	case string:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Document:
		if x == nil {
			buf.WriteString("null")
			return nil
		}
		buf.WriteByte('{')
		for i, f := range x.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(f.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := writeValue(buf, f.Value); err != nil {
				return fmt.Errorf("field %q: %w", f.Key, err)
			}
		}
		buf.WriteByte('}')
	default:
		n, err := Normalize(v)
		if err != nil {
			return err
		}
		return writeValue(buf, n)
	}
	return nil
}

// FormatNumber renders a float64 the way documents store numbers:
// integral values without a fraction, everything else in shortest form.
// Non-finite values have no JSON form and render as null.
func FormatNumber(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
