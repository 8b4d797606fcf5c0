package script

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// LoadConfig validates raw YAML configuration against a YAML JSON-Schema
// and decodes it into dst (a pointer to a struct with yaml tags).
//
// Schema defaults are applied before validation, so a required property
// with a default is satisfied when omitted. With an empty schema any
// non-empty configuration is rejected. All validation failures are returned
// as *ExpectedError.
func LoadConfig(schema string, raw []byte, dst any) error {
	doc, err := parseYAML(raw)
	if err != nil {
		return &ExpectedError{Msg: "configuration is not valid YAML: " + err.Error(), Err: err}
	}

	if strings.TrimSpace(schema) == "" {
		if !isEmptyDocument(doc) {
			return &ExpectedError{Msg: "this script takes no configuration"}
		}
		return nil
	}

	schemaDoc, err := parseSchema(schema)
	if err != nil {
		return err
	}

	if doc == nil {
		doc = map[string]any{}
	}
	doc = applyDefaults(schemaDoc, doc)

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schemaDoc), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ExpectedError{Msg: "configuration failed schema validation: " + strings.Join(msgs, "; ")}
	}

	if dst == nil {
		return nil
	}
	normalized, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("re-encoding configuration: %w", err)
	}
	if err := yaml.Unmarshal(normalized, dst); err != nil {
		return &ExpectedError{Msg: "decoding configuration: " + err.Error(), Err: err}
	}
	return nil
}

// CheckSchema verifies that schema is empty or a valid JSON-Schema object
// that rejects unknown properties.
func CheckSchema(schema string) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}
	doc, err := parseSchema(schema)
	if err != nil {
		return err
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	obj := doc.(map[string]any)
	if ap, ok := obj["additionalProperties"].(bool); !ok || ap {
		return fmt.Errorf("%w: additionalProperties must be false", ErrInvalidSchema)
	}
	return nil
}

// MergeSchemaProperties adds the properties of base to schema and returns
// the merged schema. Properties of base win on conflicts.
func MergeSchemaProperties(schema, base string) (string, error) {
	dst, err := parseSchema(schema)
	if err != nil {
		return "", err
	}
	src, err := parseSchema(base)
	if err != nil {
		return "", err
	}

	dstObj := dst.(map[string]any)
	props, _ := dstObj["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
		dstObj["properties"] = props
	}
	if baseProps, ok := src.(map[string]any)["properties"].(map[string]any); ok {
		for k, v := range baseProps {
			props[k] = v
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(dstObj); err != nil {
		return "", fmt.Errorf("encoding merged schema: %w", err)
	}
	return buf.String(), nil
}

// MustMergeSchemaProperties is MergeSchemaProperties for schemas known at
// compile time. It panics on error.
func MustMergeSchemaProperties(schema, base string) string {
	merged, err := MergeSchemaProperties(schema, base)
	if err != nil {
		panic(err)
	}
	return merged
}

func parseSchema(schema string) (any, error) {
	doc, err := parseYAML([]byte(schema))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: schema is not an object", ErrInvalidSchema)
	}
	return doc, nil
}

func parseYAML(data []byte) (any, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return convert(v), nil
}

// convert turns YAML-decoded values into JSON-compatible ones. The result
// shares no maps or slices with v.
func convert(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = convert(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = convert(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = convert(e)
		}
		return out
	default:
		return v
	}
}

func isEmptyDocument(doc any) bool {
	switch d := doc.(type) {
	case nil:
		return true
	case map[string]any:
		return len(d) == 0
	}
	return false
}

// applyDefaults fills missing object properties from the schema "default"
// keywords, descending into nested objects.
func applyDefaults(schema, doc any) any {
	s, ok := schema.(map[string]any)
	if !ok {
		return doc
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return doc
	}
	props, ok := s["properties"].(map[string]any)
	if !ok {
		return doc
	}
	for name, p := range props {
		ps, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if v, present := obj[name]; present {
			obj[name] = applyDefaults(ps, v)
			continue
		}
		if def, ok := ps["default"]; ok {
			obj[name] = applyDefaults(ps, convert(def))
		}
	}
	return obj
}
