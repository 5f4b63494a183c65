package document

import (
	"net/http"
	"strconv"
	"strings"
)

// ErrorSource points at the part of the request that caused an error, either
// a JSON pointer into the body or a query parameter name.
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// ErrorObject is a JSON:API error object. It implements error so operations
// can return it directly and transports can render it without translation.
type ErrorObject struct {
	ID     string       `json:"id,omitempty"`
	Links  Links        `json:"links,omitempty"`
	Status string       `json:"status,omitempty"`
	Code   string       `json:"code,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
	Meta   Meta         `json:"meta,omitempty"`
}

func (e *ErrorObject) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Title
}

// StatusCode returns the numeric status of the error, defaulting to 400.
func (e *ErrorObject) StatusCode() int {
	code, err := strconv.Atoi(e.Status)
	if err != nil || code < 100 {
		return http.StatusBadRequest
	}
	return code
}

func NewError(status int, detail string) *ErrorObject {
	return &ErrorObject{
		Status: strconv.Itoa(status),
		Title:  http.StatusText(status),
		Detail: detail,
	}
}

// InvalidParameter builds a 400 error pointing at a query parameter.
func InvalidParameter(parameter, detail string) *ErrorObject {
	err := NewError(http.StatusBadRequest, detail)
	err.Source = &ErrorSource{Parameter: parameter}
	return err
}

// InvalidPointer builds a 400 error pointing into the request body.
func InvalidPointer(pointer, detail string) *ErrorObject {
	err := NewError(http.StatusBadRequest, detail)
	err.Source = &ErrorSource{Pointer: pointer}
	return err
}

type ErrorList []*ErrorObject

func (el ErrorList) Error() string {
	parts := make([]string, len(el))
	for i, e := range el {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// AsErrors converts any error into a list of error objects. Errors that are
// already JSON:API shaped pass through, everything else becomes an opaque 500.
func AsErrors(err error) ErrorList {
	switch typed := err.(type) {
	case ErrorList:
		return typed
	case *ErrorObject:
		return ErrorList{typed}
	default:
		return ErrorList{NewError(http.StatusInternalServerError, err.Error())}
	}
}

// StatusOf resolves the response status for an error: the status of the
// first shaped error, or 500 for anything opaque.
func StatusOf(err error) int {
	switch typed := err.(type) {
	case ErrorList:
		if len(typed) > 0 {
			return typed[0].StatusCode()
		}
		return http.StatusInternalServerError
	case *ErrorObject:
		return typed.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}
