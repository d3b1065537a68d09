package memory

import (
	"bytes"
	"encoding/json"
)

// Optional is a tri-state field wrapper: absent, explicit null, or a value.
//
// JSON decoding never calls UnmarshalJSON for fields missing from the
// payload, so the zero Optional means "absent". An explicit null in the
// payload yields a set-but-null Optional. This keeps "caller omitted this
// field" and "caller wants it cleared" distinguishable during merges.
type Optional[T any] struct {
	set   bool
	valid bool
	value T
}

// Value returns an Optional holding v.
func Value[T any](v T) Optional[T] {
	return Optional[T]{set: true, valid: true, value: v}
}

// Null returns an explicitly-null Optional.
func Null[T any]() Optional[T] {
	return Optional[T]{set: true}
}

// IsSet reports whether the field was present in the payload at all.
func (o Optional[T]) IsSet() bool { return o.set }

// IsNull reports whether the field was present as an explicit null.
func (o Optional[T]) IsNull() bool { return o.set && !o.valid }

// Get returns the value and whether a non-null value is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set && o.valid
}

// Or returns the value when present, otherwise fallback.
func (o Optional[T]) Or(fallback T) T {
	if o.set && o.valid {
		return o.value
	}
	return fallback
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.set = true

	if bytes.Equal(data, []byte("null")) {
		o.valid = false
		var zero T
		o.value = zero
		return nil
	}

	if err := json.Unmarshal(data, &o.value); err != nil {
		return err
	}
	o.valid = true
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.set || !o.valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
