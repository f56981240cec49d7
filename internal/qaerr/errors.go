// Package qaerr defines the error kinds surfaced by the question-answering
// pipeline. Callers match them with errors.As.
package qaerr

import "fmt"

// SchemaError reports input whose overall shape is wrong: a missing
// top-level key, a non-list table, or a table with no valid rows.
type SchemaError struct {
	Msg string
}

func (e *SchemaError) Error() string { return "schema: " + e.Msg }

// ParseError reports a field that is present but cannot be coerced.
type ParseError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse: row %d column %q value %q: %v", e.Row, e.Column, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IndexLoadError reports persisted index artifacts that are inconsistent or
// unreadable.
type IndexLoadError struct {
	Path string
	Msg  string
	Err  error
}

func (e *IndexLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("index load %s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("index load %s: %s", e.Path, e.Msg)
}

func (e *IndexLoadError) Unwrap() error { return e.Err }

// ConfigError reports an invalid parameter value.
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config %s: %s", e.Key, e.Msg) }

// BackendError reports a failure of the chat or embedding service.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("backend %s: %v", e.Op, e.Err) }

func (e *BackendError) Unwrap() error { return e.Err }
