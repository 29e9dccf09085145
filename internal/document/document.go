// Package document defines the value model shared by both aggregation
// execution paths.
//
// A Value is one of a closed set of Go types:
//
//	nil        JSON null
//	bool       JSON boolean
//	float64    JSON number
//	string     JSON string
//	[]any      JSON array of Values
//	*Document  nested document
//
// Documents are never mutated once built. Set and Delete return a new
// Document that shares unchanged values with the receiver, so a stage can
// derive its output without disturbing documents held by other stages.
package document

import "fmt"

// IDField is the document identifier field.
const IDField = "_id"

// Field is one key/value pair of a Document.
type Field struct {
	Key   string
	Value any
}

// Document is an ordered mapping from string keys to Values.
type Document struct {
	fields []Field
}

// New builds a document from fields. Later duplicates replace earlier
// ones in place.
func New(fields ...Field) *Document {
	d := &Document{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		if i := d.index(f.Key); i >= 0 {
			d.fields[i].Value = f.Value
			continue
		}
		d.fields = append(d.fields, f)
	}
	return d
}

// Len returns the number of fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

// Keys returns the keys in document order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	keys := make([]string, len(d.fields))
	for i, f := range d.fields {
		keys[i] = f.Key
	}
	return keys
}

// Fields returns a copy of the fields in document order.
func (d *Document) Fields() []Field {
	if d == nil {
		return nil
	}
	out := make([]Field, len(d.fields))
	copy(out, d.fields)
	return out
}

// Get returns the value stored under key and whether it is present.
func (d *Document) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	if i := d.index(key); i >= 0 {
		return d.fields[i].Value, true
	}
	return nil, false
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Set returns a copy of d with key set to v. An existing key keeps its
// position; a new key is appended.
func (d *Document) Set(key string, v any) *Document {
	out := d.copyFields(1)
	if i := out.index(key); i >= 0 {
		out.fields[i].Value = v
		return out
	}
	out.fields = append(out.fields, Field{Key: key, Value: v})
	return out
}

// Delete returns a copy of d without key.
func (d *Document) Delete(key string) *Document {
	out := &Document{fields: make([]Field, 0, d.Len())}
	if d == nil {
		return out
	}
	for _, f := range d.fields {
		if f.Key != key {
			out.fields = append(out.fields, f)
		}
	}
	return out
}

// ID returns the identifier value, or nil when absent.
func (d *Document) ID() any {
	v, _ := d.Get(IDField)
	return v
}

// String renders the document as compact JSON.
func (d *Document) String() string {
	b, err := Marshal(d)
	if err != nil {
		return fmt.Sprintf("<invalid document: %v>", err)
	}
	return string(b)
}

func (d *Document) index(key string) int {
	for i := range d.fields {
		if d.fields[i].Key == key {
			return i
		}
	}
	return -1
}

func (d *Document) copyFields(extra int) *Document {
	out := &Document{fields: make([]Field, d.Len(), d.Len()+extra)}
	if d != nil {
		copy(out.fields, d.fields)
	}
	return out
}

// Normalize converts common Go values into the closed Value set: integer
// and float kinds become float64, map[string]any becomes a Document with
// keys in sorted order, and slices become []any. It returns an error for
// anything that has no Value representation.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, float64, string:
		return x, nil
	case *Document:
		return x, nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case map[string]any:
		keys := sortedKeys(x)
		fields := make([]Field, 0, len(keys))
		for _, k := range keys {
			n, err := Normalize(x[k])
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			fields = append(fields, Field{Key: k, Value: n})
		}
		return New(fields...), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// FromMap builds a Document from a map with keys in sorted order.
func FromMap(m map[string]any) (*Document, error) {
	v, err := Normalize(m)
	if err != nil {
		return nil, err
	}
	return v.(*Document), nil
}
