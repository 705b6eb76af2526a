package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Options tunes Decode.
type Options struct {
	// WeaklyTypedInput accepts "123" for ints, "true"/1 for bools and so on.
	WeaklyTypedInput bool
}

func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

func WithWeaklyTypedInput(v bool) Options {
	return Options{WeaklyTypedInput: v}
}

// Object parses a JSON object keeping numbers as json.Number so 64-bit ids
// survive the round trip through map[string]any.
func Object(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("decode object: not a JSON object")
	}
	return m, nil
}

// DecodeMap decodes m into a new T. Field names come from `json` tags.
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			numberToIntHook(),
			floatToIntHook(),
		),
	}

	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode struct: %w", err)
	}
	return &out, nil
}

// String reads a string field, "" when absent or not a string.
func String(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// numberToIntHook rejects fractional json.Number values for integer targets.
func numberToIntHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		n, ok := data.(json.Number)
		if !ok {
			return data, nil
		}
		switch to.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", n.String())
			}
			return i, nil
		}
		return data, nil
	}
}

// floatToIntHook converts whole float64 values to integer targets.
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		f := data.(float64)
		switch to {
		case reflect.Int, reflect.Int32, reflect.Int64:
			if f != math.Trunc(f) {
				return nil, fmt.Errorf("%v is not an integer", f)
			}
			return int64(f), nil
		}
		return data, nil
	}
}
