package mapping

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Record is one extracted canonical record. Fields whose every alternative
// failed to resolve are simply absent; extraction itself never fails on
// missing data, only on undecodable bodies.
type Record map[string]string

// Canonical status vocabulary produced by StatusMapping translation.
const (
	StatusPending   = "pending"
	StatusReceived  = "received"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// keyContext carries the dictionary keys surrounding the value a record is
// being built from.
type keyContext struct {
	key         string
	parent      string
	grandParent string
}

// Extract interprets spec against a raw response body and returns the
// extracted records. json_object and text_regex yield exactly one record;
// the dictionary and array kinds yield one per entry.
func Extract(body []byte, spec *Spec) ([]Record, error) {
	var records []Record
	var err error

	switch spec.Kind {
	case KindJSONObject:
		records, err = extractObject(body, spec)
	case KindJSONDictionary:
		records, err = extractDictionary(body, spec)
	case KindJSONArray:
		records, err = extractArray(body, spec)
	case KindTextRegex:
		records, err = extractRegex(body, spec)
	default:
		return nil, fmt.Errorf("unsupported mapping kind %q", spec.Kind)
	}
	if err != nil {
		return nil, err
	}

	if spec.StatusMapping != nil {
		for _, rec := range records {
			if raw, ok := rec["status"]; ok {
				if canonical, ok := spec.StatusMapping[raw]; ok {
					rec["status"] = canonical
				}
			}
		}
	}
	return records, nil
}

func extractObject(body []byte, spec *Spec) ([]Record, error) {
	root, err := decodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	return []Record{buildRecord(root, spec.Fields, keyContext{})}, nil
}

func extractDictionary(body []byte, spec *Spec) ([]Record, error) {
	root, err := decodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	obj, ok := root.(*orderedObject)
	if !ok {
		return nil, fmt.Errorf("json_dictionary response is not a JSON object")
	}

	depth := 1
	if spec.ExtractOperators {
		depth = 2
		for _, expr := range spec.Fields {
			if strings.Contains(expr, "$grandParentKey") {
				depth = 3
				break
			}
		}
	}

	var records []Record
	var walk func(o *orderedObject, level int, keys []string)
	walk = func(o *orderedObject, level int, keys []string) {
		for _, k := range o.keys {
			v := o.values[k]
			stack := append(append([]string{}, keys...), k)
			if level < depth {
				if inner, ok := v.(*orderedObject); ok {
					walk(inner, level+1, stack)
				}
				continue
			}
			records = append(records, buildRecord(v, spec.Fields, contextFromStack(stack)))
		}
	}
	walk(obj, 1, nil)
	return records, nil
}

// contextFromStack maps the innermost keys of the dictionary walk onto the
// $key/$parentKey/$grandParentKey tokens.
func contextFromStack(stack []string) keyContext {
	ctx := keyContext{}
	n := len(stack)
	if n > 0 {
		ctx.key = stack[n-1]
	}
	if n > 1 {
		ctx.parent = stack[n-2]
	}
	if n > 2 {
		ctx.grandParent = stack[n-3]
	}
	return ctx
}

func extractArray(body []byte, spec *Spec) ([]Record, error) {
	root, err := decodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	at := root
	if spec.RootPath != "" {
		at = resolvePath(root, spec.RootPath)
	}
	arr, ok := at.([]any)
	if !ok {
		return nil, fmt.Errorf("json_array response has no array at %q", spec.RootPath)
	}
	records := make([]Record, 0, len(arr))
	for _, el := range arr {
		records = append(records, buildRecord(el, spec.Fields, keyContext{}))
	}
	return records, nil
}

func extractRegex(body []byte, spec *Spec) ([]Record, error) {
	re := spec.compiled
	if re == nil {
		var err error
		re, err = regexp.Compile(spec.Regex)
		if err != nil {
			return nil, fmt.Errorf("bad regex %q: %w", spec.Regex, err)
		}
	}

	rec := Record{}
	match := re.FindStringSubmatch(string(body))
	if match != nil {
		for field, expr := range spec.Fields {
			idx, err := strconv.Atoi(expr)
			if err != nil || idx < 0 || idx >= len(match) {
				continue
			}
			// Group 0 is the whole match; optional groups that did not
			// participate stay absent.
			if match[idx] != "" || idx == 0 {
				rec[field] = match[idx]
			}
		}
	}
	return []Record{rec}, nil
}

// buildRecord resolves every field expression against value, skipping fields
// with no defined result.
func buildRecord(value any, fields map[string]string, ctx keyContext) Record {
	rec := Record{}
	for field, expr := range fields {
		if s, ok := resolveExpr(value, expr, ctx); ok {
			rec[field] = s
		}
	}
	return rec
}

// resolveExpr evaluates a field expression: context tokens first, otherwise
// pipe-separated path alternatives tried left to right.
func resolveExpr(value any, expr string, ctx keyContext) (string, bool) {
	switch expr {
	case "$key":
		return ctx.key, ctx.key != ""
	case "$parentKey":
		return ctx.parent, ctx.parent != ""
	case "$grandParentKey":
		return ctx.grandParent, ctx.grandParent != ""
	case "$firstKey":
		if obj, ok := value.(*orderedObject); ok {
			if k, _, ok := obj.first(); ok {
				return k, true
			}
		}
		return "", false
	case "$firstValue":
		if obj, ok := value.(*orderedObject); ok {
			if _, v, ok := obj.first(); ok {
				return stringify(v)
			}
		}
		return "", false
	}

	for _, alt := range strings.Split(expr, "|") {
		if resolved := resolvePath(value, strings.TrimSpace(alt)); resolved != nil {
			if s, ok := stringify(resolved); ok {
				return s, true
			}
		}
	}
	return "", false
}

// resolvePath walks a dotted path ("sms[0].code") through decoded JSON.
// A nil anywhere on the way short-circuits to nil rather than failing.
func resolvePath(value any, path string) any {
	if path == "" || path == "." {
		return value
	}
	current := value
	for _, seg := range strings.Split(path, ".") {
		name, indexes, err := splitSegment(seg)
		if err != nil {
			return nil
		}
		if name != "" {
			obj, ok := current.(*orderedObject)
			if !ok {
				return nil
			}
			next, ok := obj.get(name)
			if !ok {
				return nil
			}
			current = next
		}
		for _, idx := range indexes {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil
			}
			current = arr[idx]
		}
		if current == nil {
			return nil
		}
	}
	return current
}

// splitSegment parses "sms[0][1]" into name "sms" and indexes [0, 1].
func splitSegment(seg string) (string, []int, error) {
	name := seg
	var indexes []int
	for {
		open := strings.IndexByte(name, '[')
		if open < 0 {
			break
		}
		rest := name[open:]
		name = name[:open]
		for rest != "" {
			if rest[0] != '[' {
				return "", nil, fmt.Errorf("malformed path segment %q", seg)
			}
			closeIdx := strings.IndexByte(rest, ']')
			if closeIdx < 0 {
				return "", nil, fmt.Errorf("malformed path segment %q", seg)
			}
			idx, err := strconv.Atoi(rest[1:closeIdx])
			if err != nil {
				return "", nil, fmt.Errorf("malformed path segment %q", seg)
			}
			indexes = append(indexes, idx)
			rest = rest[closeIdx+1:]
		}
	}
	return name, indexes, nil
}

// stringify converts a resolved JSON leaf to its canonical string form.
// Objects and arrays are not representable as field values.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case nil:
		return "", false
	default:
		return "", false
	}
}
