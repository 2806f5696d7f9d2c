package invoice

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule errors
var (
	ErrNoRules        = errors.New("rule set is empty")
	ErrDuplicateField = errors.New("duplicate field in rule set")
)

// Rule maps one labelled pattern in the invoice text to a record field
type Rule struct {
	Field   Field  `yaml:"field"`
	Label   string `yaml:"label"`
	Pattern string `yaml:"pattern"`
	Group   int    `yaml:"group"`
}

// DefaultRules returns the built-in rule set.
//
// The vendor rule captures a single character after the label. Exports and
// API consumers see only that character, not the vendor name.
func DefaultRules() []Rule {
	return []Rule{
		{Field: FieldInvoiceNumber, Label: "Invoice Number", Pattern: `Invoice\s*No[:\s]*([\w-]+)`, Group: 1},
		{Field: FieldDate, Label: "Date", Pattern: `Date[:\s]*([\d/-]+)`, Group: 1},
		{Field: FieldTotalAmount, Label: "Total Amount", Pattern: `Total\s*[:\s$]*([\d,\.]+)`, Group: 1},
		{Field: FieldVendor, Label: "Vendor", Pattern: `Vendor[:\s]*(.)`, Group: 1},
	}
}

// DefaultFields returns the fields of the built-in rule set in order
func DefaultFields() []Field {
	rules := DefaultRules()
	fields := make([]Field, len(rules))
	for i, r := range rules {
		fields[i] = r.Field
	}
	return fields
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule set of the form
//
//	rules:
//	  - field: invoice_number
//	    label: Invoice Number
//	    pattern: 'Invoice\s*No[:\s]*([\w-]+)'
//	    group: 1
func LoadRules(r io.Reader) ([]Rule, error) {
	var file rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoRules
		}
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}

	for i := range file.Rules {
		if file.Rules[i].Group == 0 {
			file.Rules[i].Group = 1
		}
		if file.Rules[i].Label == "" {
			file.Rules[i].Label = string(file.Rules[i].Field)
		}
	}

	if _, err := compile(file.Rules); err != nil {
		return nil, err
	}
	return file.Rules, nil
}

// LoadRulesFile reads a YAML rule set from disk
func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// compile validates a rule set and prepares its patterns. Labels are matched
// case-insensitively regardless of how the pattern is written.
func compile(rules []Rule) ([]compiledRule, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	seen := make(map[Field]bool, len(rules))
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.Field == "" {
			return nil, fmt.Errorf("rule %d: field name is required", i)
		}
		if seen[r.Field] {
			return nil, fmt.Errorf("rule %d: %w: %s", i, ErrDuplicateField, r.Field)
		}
		seen[r.Field] = true

		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): invalid pattern: %w", i, r.Field, err)
		}
		if r.Group < 0 || r.Group > re.NumSubexp() {
			return nil, fmt.Errorf("rule %d (%s): capture group %d out of range (pattern has %d)",
				i, r.Field, r.Group, re.NumSubexp())
		}
		out = append(out, compiledRule{Rule: r, re: re})
	}
	return out, nil
}
