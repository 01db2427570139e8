package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// JSON decodes the request body into a T, validates it, and passes it to
// next. Malformed or invalid bodies get a 400 with a JSON error list.
func JSON[T any](next func(w http.ResponseWriter, r *http.Request, req T)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req T
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, ValidationErrors{{
				Field:   "request_body",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			}})
			return
		}

		if err := Struct(req); err != nil {
			var errs ValidationErrors
			if errors.As(err, &errs) {
				writeErrorResponse(w, http.StatusBadRequest, errs)
				return
			}
			writeErrorResponse(w, http.StatusInternalServerError, ValidationErrors{{
				Field:   "validation",
				Message: "validation failed",
			}})
			return
		}

		next(w, r, req)
	})
}

// writeErrorResponse writes validation errors as JSON response
func writeErrorResponse(w http.ResponseWriter, statusCode int, errs ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, err := MarshalValidationErrors(errs)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"validation failed","message":"internal validation error"}`))
		return
	}
	_, _ = w.Write(data)
}
