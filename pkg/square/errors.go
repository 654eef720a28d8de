package square

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/angelmondragon/stockflow-backend/pkg/errors"
)

// classify maps an SDK failure onto a domain error code. 5xx, transport
// failures and rate limits surface as dependency or rate-limit errors, which
// the sync dispatcher counts against its circuit breaker.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op+" failed")
	}

	code := codeForStatus(apiErr.StatusCode)
	if override, ok := codeForDetails(apiErrors(apiErr)); ok {
		code = override
	}
	return pkgerrors.Wrap(code, err, "square "+op+" failed").
		WithDetails(map[string]any{"status": apiErr.StatusCode})
}

// codeForDetails lets the first recognized Square error category or code win
// over the HTTP status.
func codeForDetails(details []*sq.Error) (pkgerrors.Code, bool) {
	for _, detail := range details {
		switch {
		case detail == nil:
		case detail.Code == sq.ErrorCodeIdempotencyKeyReused:
			return pkgerrors.CodeIdempotency, true
		case detail.Category == sq.ErrorCategoryAuthenticationError:
			return pkgerrors.CodeUnauthorized, true
		case detail.Category == sq.ErrorCategoryRateLimitError:
			return pkgerrors.CodeRateLimit, true
		}
	}
	return "", false
}

// apiErrors decodes the {"errors": [...]} body Square attaches to API errors.
func apiErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}
