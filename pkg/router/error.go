package router

import (
	"encoding/json"
	"io"
	"maps"
	"net/http"
)

// Error is an error a handler can return to control the response.
// StatusCode is written as the status and Encode writes the body.
type Error interface {
	error
	StatusCode() int
	Encode(w io.Writer) error
}

// JsonError is written to the client as {"code": ..., "error": ..., "fields": {...}}.
type JsonError struct {
	Code int    `json:"code"`
	Err  string `json:"error"`
	// Fields maps request fields to what was wrong with them.
	Fields map[string]string `json:"fields,omitempty"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{Code: code, Err: err}
}

func BadRequest(msg string) JsonError { return NewJsonError(http.StatusBadRequest, msg) }

func Unauthorized(msg string) JsonError { return NewJsonError(http.StatusUnauthorized, msg) }

func NotFound(msg string) JsonError { return NewJsonError(http.StatusNotFound, msg) }

// WithFields returns a copy of e carrying per-field messages.
func (e JsonError) WithFields(fields map[string]string) JsonError {
	e.Fields = maps.Clone(fields)
	return e
}

func (e JsonError) StatusCode() int { return e.Code }

func (e JsonError) Error() string { return e.Err }

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(e)
}
