package invoice

// Extractor applies a compiled rule set to aggregated document text
type Extractor struct {
	rules []compiledRule
}

// NewExtractor compiles rules into an extractor
func NewExtractor(rules []Rule) (*Extractor, error) {
	compiled, err := compile(rules)
	if err != nil {
		return nil, err
	}
	return &Extractor{rules: compiled}, nil
}

// NewDefaultExtractor returns an extractor for the built-in rule set
func NewDefaultExtractor() *Extractor {
	e, err := NewExtractor(DefaultRules())
	if err != nil {
		panic("invoice: default rules do not compile: " + err.Error())
	}
	return e
}

// Extract runs every rule over the whole text. Each rule keeps its first
// match in document order; a rule that does not match leaves its field absent.
func (e *Extractor) Extract(text string) Record {
	record := NewRecord(e.Fields()...)
	for _, r := range e.rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		record.set(r.Field, m[r.Group])
	}
	return record
}

// Fields returns the field names in rule order
func (e *Extractor) Fields() []Field {
	fields := make([]Field, len(e.rules))
	for i, r := range e.rules {
		fields[i] = r.Field
	}
	return fields
}

// Labels returns the display label of each field in rule order
func (e *Extractor) Labels() []string {
	labels := make([]string, len(e.rules))
	for i, r := range e.rules {
		labels[i] = r.Label
	}
	return labels
}

// Rules returns a copy of the rule set
func (e *Extractor) Rules() []Rule {
	rules := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		rules[i] = r.Rule
	}
	return rules
}
