package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tidewater-labs/quarry/internal/core"
)

// envelope is the uniform JSON shape of every response.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("writing response failed", "err", err)
	}
}

// writeError maps a domain error to an HTTP status and a stable error code.
// Internal detail never reaches the caller; the wrapped cause is for logs.
func writeError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	if code == core.CodeInternal && errors.Is(err, core.ErrNotFound) {
		code = core.CodeNotFound
	}

	status := http.StatusInternalServerError
	switch code {
	case core.CodeValidation:
		status = http.StatusBadRequest
	case core.CodeNotFound:
		status = http.StatusNotFound
	case core.CodeRateLimit:
		status = http.StatusTooManyRequests
	case core.CodeTimeout:
		status = http.StatusGatewayTimeout
	case core.CodeProvider, core.CodeEmbedding:
		status = http.StatusBadGateway
	}

	message := "internal error"
	var domainErr *core.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	} else if errors.Is(err, core.ErrNotFound) {
		message = "not found"
	}

	body := envelope{
		"success": false,
		"error":   envelope{"code": code, "message": message},
	}
	var rl *core.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		secs := int(rl.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body["retry_after"] = secs
	}
	writeJSON(w, status, body)
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return core.NewError(core.CodeValidation, "invalid JSON body", err)
	}
	return nil
}
