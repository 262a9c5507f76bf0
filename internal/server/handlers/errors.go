package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/rollcall/internal/models"
	"github.com/iudanet/rollcall/internal/server/storage"
	"github.com/iudanet/rollcall/pkg/api"
)

// writeServiceError переводит ошибку сервиса в HTTP статус и код
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, logger, http.StatusBadRequest, api.ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Code:    api.CodeValidation,
			Field:   verr.Field,
			Message: verr.Reason,
		})
	case errors.Is(err, storage.ErrRecordNotFound), errors.Is(err, storage.ErrEntryNotFound):
		WriteError(w, logger, http.StatusNotFound, api.CodeNotFound, err.Error())
	case errors.Is(err, storage.ErrRecordExists):
		WriteError(w, logger, http.StatusConflict, api.CodeAlreadyExists, err.Error())
	case errors.Is(err, storage.ErrFieldNotInEntry):
		WriteError(w, logger, http.StatusUnprocessableEntity, api.CodeFieldNotInEntry, err.Error())
	case errors.Is(err, storage.ErrInvalidEntry):
		WriteError(w, logger, http.StatusBadRequest, api.CodeBadRequest, err.Error())
	default:
		logger.Error("Request failed", "error", err)
		WriteError(w, logger, http.StatusInternalServerError, api.CodeInternal, "")
	}
}
