package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/iho/smmpanel/internal/adapter/http/dto"
	"github.com/iho/smmpanel/internal/domain"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError writes err with the status it maps to. Admission details such
// as the shortfall are copied into the body.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status := mapDomainError(err)
	if status == http.StatusInternalServerError {
		writeJSON(w, status, dto.ErrorResponse{Error: message, Message: domain.ErrPersistence.Error()})
		return
	}

	writeJSON(w, status, dto.ErrorFromDomain(message, err))
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrOfferingNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateActiveOrder),
		errors.Is(err, domain.ErrRefillPending),
		errors.Is(err, domain.ErrOrderLocked):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAccountInactive),
		errors.Is(err, domain.ErrOfferingUnavailable),
		errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrQuantityOutOfBounds),
		errors.Is(err, domain.ErrOrderNotDispatched),
		errors.Is(err, domain.ErrRefillNotSupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDispatchFailed),
		errors.Is(err, domain.ErrRefillFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// principal returns the authenticated principal or writes a 401.
func principal(w http.ResponseWriter, r *http.Request) (domain.Principal, bool) {
	p, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", domain.ErrUnauthorized.Error())
		return domain.Principal{}, false
	}

	return p, true
}
