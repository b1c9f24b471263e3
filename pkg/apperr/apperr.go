// Package apperr defines the error kinds surfaced by the HTTP layer and maps
// each kind to a stable response code and status.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindConfig
	KindAuthExchange
	KindDecrypt
	KindNotAuthenticated
	KindReauthRequired
	KindProviderAPI
	KindNotFound
	KindBadRequest
	KindNormalization
)

// Code is the stable identifier returned in the "error" field.
func (k Kind) Code() string {
	switch k {
	case KindConfig:
		return "config_error"
	case KindAuthExchange:
		return "auth_exchange_failed"
	case KindDecrypt, KindNotAuthenticated:
		return "not_authenticated"
	case KindReauthRequired:
		return "reauth_required"
	case KindProviderAPI:
		return "provider_api_error"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindNormalization:
		return "normalization_error"
	default:
		return "internal_error"
	}
}

func (k Kind) Status() int {
	switch k {
	case KindDecrypt, KindNotAuthenticated, KindReauthRequired:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the public detail for err. Errors without a kind only
// expose a generic message.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
