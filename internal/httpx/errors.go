package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/ariefcatur/sweet-shop/internal/apperr"
	"github.com/ariefcatur/sweet-shop/internal/telemetry"
	"go.uber.org/zap"
)

type errorBody struct {
	Error     string            `json:"error"`
	Code      apperr.Kind       `json:"code"`
	Available *int              `json:"available,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidQuantity, apperr.KindEmptyOrder, apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindInsufficientStock, apperr.KindConcurrencyConflict, apperr.KindDuplicate:
		return http.StatusConflict
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeValidation(w http.ResponseWriter, fields map[string]string, err error) {
	e, _ := apperr.As(err)
	writeJSON(w, http.StatusBadRequest, errorBody{Error: e.Msg, Code: apperr.KindInvalidInput, Fields: fields})
}

// writeError renders err for the client. Storage failures are logged and
// answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	code := statusOf(kind)
	body := errorBody{Code: kind}

	if code == http.StatusInternalServerError {
		telemetry.Error(r.Context(), log, "request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		body.Code = apperr.KindStorageFailure
		body.Error = "internal error"
		writeJSON(w, code, body)
		return
	}

	e, _ := apperr.As(err)
	body.Error = e.Msg
	if kind == apperr.KindInsufficientStock {
		n := e.Available
		body.Available = &n
	}
	writeJSON(w, code, body)
}
