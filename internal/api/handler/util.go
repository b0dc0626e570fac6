package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/ayo6706/transfer-orchestrator/internal/api/problem"
	"github.com/ayo6706/transfer-orchestrator/internal/idempotency"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/rail"
	"github.com/ayo6706/transfer-orchestrator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// decodeBody reads a JSON body into dst and runs struct validation.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			problem.WriteDetails(w, r, problem.Details{
				Type:   problem.Type("request/validation"),
				Status: http.StatusBadRequest,
				Detail: fe.Field() + " failed " + fe.Tag() + " validation",
				Field:  fe.Field(),
			})
			return false
		}
		RespondError(w, r, http.StatusBadRequest, "request/validation", err.Error())
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-"+name, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// writeServiceError maps service and storage errors onto problem documents.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		problem.WriteDetails(w, r, problem.Details{
			Type:   problem.Type("request/validation"),
			Status: http.StatusBadRequest,
			Detail: verr.Error(),
			Field:  verr.Field,
		})
	case errors.Is(err, idempotency.ErrFingerprintMismatch):
		RespondError(w, r, http.StatusConflict, "idempotency/key-conflict", "Idempotency-Key was already used with a different request")
	case errors.Is(err, models.ErrTransferNotFound):
		RespondError(w, r, http.StatusNotFound, "transfer/not-found", "transfer not found")
	case errors.Is(err, models.ErrAccountNotFound):
		RespondError(w, r, http.StatusNotFound, "account/not-found", "account not found")
	case errors.Is(err, service.ErrInvalidSignature):
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
	case errors.Is(err, service.ErrRailMismatch):
		RespondError(w, r, http.StatusConflict, "webhook/rail-mismatch", err.Error())
	case errors.Is(err, rail.ErrUnknownRail):
		RespondError(w, r, http.StatusBadRequest, "transfer/unknown-rail", err.Error())
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		zap.L().Error(op+" failed", zap.Error(err), zap.String("path", r.URL.Path))
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", op+" failed")
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	default:
		return 0, "", "", false
	}
}
