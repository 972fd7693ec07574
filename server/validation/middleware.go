// Package validation checks inbound chat requests before they reach the
// relay: JSON shape, field constraints and an estimated context size.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/adrianmueller-eu/personal-assistant-sub000/chat"
	"github.com/adrianmueller-eu/personal-assistant-sub000/errors"
	"github.com/adrianmueller-eu/personal-assistant-sub000/server/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	// DefaultEncoding is used for the context size estimate.
	DefaultEncoding = "cl100k_base"

	maxBodyBytes = 8 << 20
)

type contextKey struct{}

// ValidationErrorDetail describes one failed field.
type ValidationErrorDetail struct {
	Field   string `json:"field"`           // The field that failed validation
	Message string `json:"message"`         // Human-readable error message
	Code    string `json:"code"`            // Machine-readable error code
	Value   string `json:"value,omitempty"` // The invalid value (if safe to return)
}

// Validator decodes and checks chat requests. The context limit can be
// changed at runtime.
type Validator struct {
	validate  *validator.Validate
	maxTokens atomic.Int64
	logger    *zap.Logger

	counterOnce sync.Once
	counter     *TokenCounter
	counterErr  error
	encoding    string
}

// Option configures a Validator.
type Option func(*Validator)

// WithTokenCounter sets the counter instead of loading DefaultEncoding.
func WithTokenCounter(tc *TokenCounter) Option {
	return func(v *Validator) {
		v.counterOnce.Do(func() { v.counter = tc })
	}
}

// NewValidator creates a validator. maxContextTokens of zero disables the
// size check; the encoding is loaded on first use.
func NewValidator(maxContextTokens int, logger *zap.Logger, opts ...Option) *Validator {
	v := &Validator{
		validate: newValidator(),
		logger:   logger,
		encoding: DefaultEncoding,
	}
	v.maxTokens.Store(int64(maxContextTokens))
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetMaxContextTokens changes the limit. Zero disables the check.
func (v *Validator) SetMaxContextTokens(n int) {
	v.maxTokens.Store(int64(n))
}

func (v *Validator) tokenCounter() (*TokenCounter, error) {
	v.counterOnce.Do(func() {
		v.counter, v.counterErr = NewTokenCounter(v.encoding)
	})
	return v.counter, v.counterErr
}

// Decode reads, validates and converts the request body.
func (v *Validator) Decode(r *http.Request) (*chat.Request, *errors.RelayError) {
	requestID := middleware.GetRequestID(r.Context())

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return nil, badRequest(requestID, "Invalid or missing Content-Type header", ValidationErrorDetail{
			Field:   "header:Content-Type",
			Message: "Content-Type must be application/json",
			Code:    "invalid_content_type",
			Value:   r.Header.Get("Content-Type"),
		})
	}

	var in ChatRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		return nil, badRequest(requestID, "Invalid request format", ValidationErrorDetail{
			Field:   "body",
			Message: err.Error(),
			Code:    "invalid_json",
		})
	}

	if err := v.validate.Struct(in); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, errors.NewInternalError(requestID, err)
		}
		details := make([]ValidationErrorDetail, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, ValidationErrorDetail{
				Field:   fieldPath(fe),
				Message: fieldMessage(fe),
				Code:    fe.Tag() + "_validation_failed",
			})
		}
		return nil, unprocessable(requestID, "Request validation failed", details...)
	}

	req := in.ToChat()
	if limit := int(v.maxTokens.Load()); limit > 0 {
		counter, err := v.tokenCounter()
		if err != nil {
			// Without an encoding the estimate is skipped, not the request.
			v.logger.Warn("token counter unavailable", zap.Error(err))
			return req, nil
		}
		if total, err := counter.ValidateTokens(req, limit); err != nil {
			return nil, unprocessable(requestID, "Token limit exceeded", ValidationErrorDetail{
				Field:   "messages",
				Message: err.Error(),
				Code:    "token_limit_exceeded",
				Value:   fmt.Sprintf("%d", total),
			})
		}
	}
	return req, nil
}

// Middleware decodes the chat request and stores it in the request context
// for RequestFrom. Invalid requests are answered here.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, rerr := v.Decode(r)
		if rerr != nil {
			v.logger.Debug("rejected chat request",
				zap.String("request_id", rerr.RequestID),
				zap.String("message", rerr.Message),
				zap.Any("details", rerr.Details))
			errors.WriteError(w, rerr)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, req)))
	})
}

// RequestFrom returns the request stored by Middleware.
func RequestFrom(ctx context.Context) (*chat.Request, bool) {
	req, ok := ctx.Value(contextKey{}).(*chat.Request)
	return req, ok
}

func badRequest(requestID, message string, details ...ValidationErrorDetail) *errors.RelayError {
	return errors.NewValidationError(requestID, message, map[string]interface{}{
		"errors":     details,
		"suggestion": "Please check the API documentation for correct request format",
	})
}

func unprocessable(requestID, message string, details ...ValidationErrorDetail) *errors.RelayError {
	rerr := errors.NewValidationError(requestID, message, map[string]interface{}{
		"errors":     details,
		"suggestion": "The request format is correct but the content is invalid",
	})
	rerr.Code = http.StatusUnprocessableEntity
	return rerr
}

// fieldPath turns "ChatRequest.messages[0].role" into "messages[0].role".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range (%s %s)", fe.Field(), fe.Tag(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	}
	return fmt.Sprintf("validation failed on '%s'", fe.Tag())
}
