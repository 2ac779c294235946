package capability

import (
	"errors"
	"strings"

	"github.com/dotsetgreg/chitra/pkg/storage"
)

// FromStoreError maps storage sentinels to structured capability errors.
// Other errors are returned unchanged and surface as capability_error.
func FromStoreError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: msg}
	case errors.Is(err, storage.ErrInvalid):
		return &Error{Kind: KindValidation, Message: msg}
	default:
		return err
	}
}

// Nullable renders an empty optional string as null.
func Nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// RecordString reads an optional string field from a record. Numbers are
// accepted for fields such as phone.
func RecordString(rec Record, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return ""
	}
	s, err := coerce(KindString, v)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s.(string))
}
