package salobj

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fields are the named values of a command or sample.
type Fields map[string]any

// Sample is one event or telemetry message.
type Sample struct {
	Topic    string
	Data     Fields
	Raw      json.RawMessage
	Received time.Time
}

func newSample(topic string, payload []byte) (Sample, error) {
	var data Fields
	if err := json.Unmarshal(payload, &data); err != nil {
		return Sample{}, fmt.Errorf("decoding %s: %w", topic, err)
	}
	raw := make(json.RawMessage, len(payload))
	copy(raw, payload)
	return Sample{Topic: topic, Data: data, Raw: raw, Received: time.Now()}, nil
}

// Float returns a numeric field.
func (s Sample) Float(key string) (float64, error) {
	v, ok := s.Data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s has no field %q", ErrNoData, s.Topic, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("%w: %s field %q is %T, not a number", ErrNoData, s.Topic, key, v)
	}
}

// Int returns a numeric field truncated to int.
func (s Sample) Int(key string) (int, error) {
	f, err := s.Float(key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// String returns a string field.
func (s Sample) String(key string) (string, error) {
	v, ok := s.Data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s has no field %q", ErrNoData, s.Topic, key)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s field %q is %T, not a string", ErrNoData, s.Topic, key, v)
	}
	return str, nil
}

// Decode unmarshals the sample into v.
func (s Sample) Decode(v any) error {
	return json.Unmarshal(s.Raw, v)
}
