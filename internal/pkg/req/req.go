/*
Package req provides helpers for reading and validating HTTP request input.
*/
package req

import (
	"net/http"
	"strconv"

	"cryptochat/internal/pkg/errs"
)

// QueryInt reads an integer query parameter. A missing value yields def; a malformed
// value or one outside [lo, hi] yields ErrInvalidParams.
func QueryInt(r *http.Request, key string, def, lo, hi int) (int, *errs.CustomError) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < lo || value > hi {
		return 0, errs.NewError(errs.ErrInvalidParams)
	}

	return value, nil
}

// PathInt64 parses a positive int64 path segment such as a chat id.
func PathInt64(raw string) (int64, *errs.CustomError) {
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0, errs.NewError(errs.ErrInvalidParams)
	}
	return value, nil
}
