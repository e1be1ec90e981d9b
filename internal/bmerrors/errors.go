// Package bmerrors defines the typed error kinds that flow through the
// benchmark pipeline: per-request failures carried on RawRequestRecord,
// and fatal failures that abort a run.
package bmerrors

import "fmt"

// ConfigError reports an invalid or contradictory configuration. Config
// errors are detected before any service starts and cause exit code 1.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// TransportError wraps a connect/read/write/timeout/TLS failure from the
// HTTP client.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport error (%s): %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx HTTP response.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("http error: status %d", e.Code) }

// ResponseParseError reports a malformed stream event or unparseable body.
type ResponseParseError struct {
	Err error
}

func (e *ResponseParseError) Error() string { return fmt.Sprintf("response parse error: %v", e.Err) }
func (e *ResponseParseError) Unwrap() error { return e.Err }

// RequestTimeout reports that request-timeout-seconds was exceeded.
type RequestTimeout struct {
	TimeoutSeconds float64
}

func (e *RequestTimeout) Error() string {
	return fmt.Sprintf("request timeout after %.2fs", e.TimeoutSeconds)
}

// RequestCancellationError reports a cooperative cancel, either user-driven
// (cancellation injection) or triggered by grace-period abort. Per spec,
// carries HTTP-style code 499.
type RequestCancellationError struct {
	Code int
}

func NewRequestCancellationError() *RequestCancellationError {
	return &RequestCancellationError{Code: 499}
}

func (e *RequestCancellationError) Error() string {
	return fmt.Sprintf("request cancelled (code %d)", e.Code)
}

// DatasetError reports a dataset lookup miss or malformed trace line.
type DatasetError struct {
	Message string
}

func (e *DatasetError) Error() string { return fmt.Sprintf("dataset error: %s", e.Message) }

// FatalInternalError reports an invariant violation, deadlock, or service
// crash. Propagation causes the controller to abort with exit code 2.
type FatalInternalError struct {
	Component string
	Err       error
}

func (e *FatalInternalError) Error() string {
	return fmt.Sprintf("fatal internal error in %s: %v", e.Component, e.Err)
}
func (e *FatalInternalError) Unwrap() error { return e.Err }

// Kind classifies an error into one of the type tags the spec's
// "API Error Summary" reports by name.
func Kind(err error) string {
	switch err.(type) {
	case *ConfigError:
		return "ConfigError"
	case *TransportError:
		return "TransportError"
	case *HTTPError:
		return "HTTPError"
	case *ResponseParseError:
		return "ResponseParseError"
	case *RequestTimeout:
		return "RequestTimeout"
	case *RequestCancellationError:
		return "RequestCancellationError"
	case *DatasetError:
		return "DatasetError"
	case *FatalInternalError:
		return "FatalInternalError"
	default:
		return "UnknownError"
	}
}
