package mapping

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Kind selects the interpretation strategy for a vendor response body.
type Kind string

const (
	KindJSONObject     Kind = "json_object"
	KindJSONDictionary Kind = "json_dictionary"
	KindJSONArray      Kind = "json_array"
	KindTextRegex      Kind = "text_regex"
)

// Spec is the declarative description of how to pull canonical fields out of
// one vendor operation's raw response. Specs are stored as JSON on the
// provider configuration and validated once at load time; Extract treats a
// validated Spec as trusted.
type Spec struct {
	Kind Kind `json:"type" validate:"required,oneof=json_object json_dictionary json_array text_regex"`

	// Fields maps canonical field name -> source expression. For the JSON
	// kinds the expression is a dotted path with pipe-separated alternatives
	// (e.g. "activationId|id", "sms[0].code") or a context token such as
	// "$key". For text_regex it is a capture-group index ("0" = whole match).
	Fields map[string]string `json:"fields" validate:"required,min=1"`

	// RootPath optionally points json_array at a nested array.
	RootPath string `json:"rootPath,omitempty"`

	// Regex is required for text_regex.
	Regex string `json:"regex,omitempty"`

	// ExtractOperators flattens one extra nesting level of a json_dictionary
	// into per-operator records.
	ExtractOperators bool `json:"extractOperators,omitempty"`

	// StatusMapping translates vendor status tokens ("STATUS_WAIT_CODE", ...)
	// to the canonical vocabulary (pending|received|cancelled|completed).
	StatusMapping map[string]string `json:"statusMapping,omitempty"`

	compiled *regexp.Regexp
}

var validate = validator.New()

// Validate checks the spec against the schema and compiles the regex for
// text_regex kinds. A spec that fails validation must never reach Extract;
// misconfigured mappings fail fast instead of silently reading wrong fields.
func (s *Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("mapping spec invalid: %w", err)
	}

	switch s.Kind {
	case KindTextRegex:
		if s.Regex == "" {
			return fmt.Errorf("mapping spec invalid: text_regex requires a regex")
		}
		re, err := regexp.Compile(s.Regex)
		if err != nil {
			return fmt.Errorf("mapping spec invalid: bad regex %q: %w", s.Regex, err)
		}
		for field, expr := range s.Fields {
			idx, err := strconv.Atoi(expr)
			if err != nil || idx < 0 {
				return fmt.Errorf("mapping spec invalid: field %q must reference a capture group index, got %q", field, expr)
			}
			if idx > re.NumSubexp() {
				return fmt.Errorf("mapping spec invalid: field %q references group %d but regex has %d", field, idx, re.NumSubexp())
			}
		}
		s.compiled = re
	default:
		if s.Regex != "" {
			return fmt.Errorf("mapping spec invalid: regex is only allowed for text_regex")
		}
	}
	return nil
}
