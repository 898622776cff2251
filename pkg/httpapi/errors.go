package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgecrate/registry/pkg/registryerrors"
)

// errorEnvelope is spec.md §6's error response shape:
// {"errors":[{"detail":"..."}]}.
type errorEnvelope struct {
	Errors []errorDetail `json:"errors"`
}

type errorDetail struct {
	Detail string `json:"detail"`
}

// writeError maps err onto an HTTP status per registryerrors.HTTPStatus
// and writes spec.md §6's error envelope. IndexBusy additionally sets
// Retry-After, per spec.md §7's recovery note on bounded index push retry.
func writeError(w http.ResponseWriter, err error) {
	code := registryerrors.CodeOf(err)
	status := registryerrors.HTTPStatus(code)

	if code == registryerrors.IndexBusy {
		w.Header().Set("Retry-After", "5")
		indexPushRetries.WithLabelValues("push").Inc()
	}
	detail := err.Error()
	var rerr *registryerrors.Error
	if errors.As(err, &rerr) {
		// Only Code and Message reach the client; Cause stays out of the body.
		detail = registryerrors.New(rerr.Code, rerr.Message).Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Errors: []errorDetail{{Detail: detail}}})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
