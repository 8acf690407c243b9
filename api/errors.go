package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"mintflow/asset"
	"mintflow/claim"
	"mintflow/dispute"
	"mintflow/identity"
	"mintflow/order"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// status maps service errors onto the response taxonomy: unknown records are
// 404, conflicts and wrong-state transitions 409, malformed input 400. Errors
// outside those classes are transient by definition and map to 502 upstream
// trouble; finalize and funding sync never take that path (they answer 202
// with the current snapshot so pollers retry without alarming anyone).
func status(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, asset.ErrNotFound),
		errors.Is(err, claim.ErrNotFound),
		errors.Is(err, identity.ErrPrincipalNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrDuplicate),
		errors.Is(err, dispute.ErrDuplicate),
		errors.Is(err, asset.ErrDuplicate),
		errors.Is(err, identity.ErrDuplicateHandle),
		errors.Is(err, claim.ErrConflict),
		errors.Is(err, order.ErrInvalidState),
		errors.Is(err, dispute.ErrBadStatus):
		return http.StatusConflict
	case errors.Is(err, order.ErrUnknownAsset),
		errors.Is(err, dispute.ErrUnknownAsset),
		errors.Is(err, claim.ErrUnknownKind),
		errors.Is(err, identity.ErrWeakPassphrase),
		errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// retryable reports whether the error is outside the typed taxonomy, i.e. a
// transient network/store condition the caller should simply retry.
func retryable(err error) bool {
	return status(err) == http.StatusBadGateway
}
