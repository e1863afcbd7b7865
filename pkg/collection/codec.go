package collection

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EncodeValue encodes a record value as JSON for byte-oriented backends.
// Values JSON cannot represent are reported as ErrUnsupportedValue.
func EncodeValue(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err == nil {
		return b, nil
	}
	var typeErr *json.UnsupportedTypeError
	var valErr *json.UnsupportedValueError
	var marshalErr *json.MarshalerError
	if errors.As(err, &typeErr) || errors.As(err, &valErr) || errors.As(err, &marshalErr) {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedValue, err)
	}
	return nil, fmt.Errorf("marshal value: %w", err)
}

// DecodeValue decodes a value written by EncodeValue.
func DecodeValue(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
