package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field names a slot of an invoice record
type Field string

// Fields recognized by the default rule set
const (
	FieldInvoiceNumber Field = "invoice_number"
	FieldDate          Field = "date"
	FieldTotalAmount   Field = "total_amount"
	FieldVendor        Field = "vendor"
)

// Record holds the values captured for one document. Every field of the rule
// set that produced it is present; unmatched fields are absent, not missing.
type Record struct {
	fields []Field
	values map[Field]string
}

// NewRecord creates an empty record with a slot for each field
func NewRecord(fields ...Field) Record {
	r := Record{
		fields: make([]Field, len(fields)),
		values: make(map[Field]string, len(fields)),
	}
	copy(r.fields, fields)
	return r
}

// Fields returns the field names in rule order
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Get returns the captured value and whether the field matched
func (r Record) Get(f Field) (string, bool) {
	v, ok := r.values[f]
	return v, ok
}

// Value returns the captured value or "" when the field is absent
func (r Record) Value(f Field) string {
	return r.values[f]
}

// Has reports whether the record has a slot for f
func (r Record) Has(f Field) bool {
	for _, name := range r.fields {
		if name == f {
			return true
		}
	}
	return false
}

func (r Record) InvoiceNumber() string { return r.Value(FieldInvoiceNumber) }
func (r Record) Date() string          { return r.Value(FieldDate) }
func (r Record) TotalAmount() string   { return r.Value(FieldTotalAmount) }
func (r Record) Vendor() string        { return r.Value(FieldVendor) }

// Map returns a field -> value map; absent fields map to nil
func (r Record) Map() map[string]*string {
	m := make(map[string]*string, len(r.fields))
	for _, f := range r.fields {
		if v, ok := r.values[f]; ok {
			m[string(f)] = &v
		} else {
			m[string(f)] = nil
		}
	}
	return m
}

// set records a captured value. Only known fields are accepted.
func (r *Record) set(f Field, v string) {
	r.values[f] = v
}

// MarshalJSON renders the record as an object in rule order, absent fields as null
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(f))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		v, ok := r.values[f]
		if !ok {
			buf.WriteString("null")
			continue
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a record produced by MarshalJSON or by a remote backend.
// The default fields are always present afterwards; extra fields are kept.
// Numbers are kept as the literal text of the token.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = NewRecord(DefaultFields()...)
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("invoice record must be a JSON object")
	}

	out := NewRecord(DefaultFields()...)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		v, ok, err := fieldValue(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}

		f := Field(key)
		if !out.Has(f) {
			out.fields = append(out.fields, f)
		}
		if ok {
			out.set(f, v)
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = out
	return nil
}

// fieldValue reads a string, a number or null
func fieldValue(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0:
		return "", false, fmt.Errorf("missing value")
	case string(raw) == "null":
		return "", false, nil
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'):
		return string(raw), true, nil
	default:
		return "", false, fmt.Errorf("value must be a string, number or null, got %s", raw)
	}
}
