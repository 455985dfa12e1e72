package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/fault"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Code: status, Kind: kind, Message: message})
}

// StatusOf maps an error kind to its HTTP status code.
func StatusOf(kind fault.Kind) int {
	switch kind {
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case fault.KindUnauthorized:
		return http.StatusForbidden
	case fault.KindInvalidState:
		return http.StatusConflict
	case fault.KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a domain error. Internal errors are logged and their
// message is hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := fault.KindOf(err)
	status := StatusOf(kind)

	msg := err.Error()
	switch kind {
	case fault.KindInternal:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = http.StatusText(status)
	case fault.KindExternal:
		zctx.From(r.Context()).Warn("External service failed", zap.Error(err))
		msg = "payment provider unavailable"
	}
	writeMessage(w, status, kind.String(), msg)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeMessage(w, http.StatusBadRequest, "bad_request", msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
