package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/tessari/passport/internal/services/prevalidate"
)

// ValidateHandler exposes the synchronous pre-validator, usable before any
// job exists
type ValidateHandler struct {
	prevalidate *prevalidate.Service
	validate    *validator.Validate
	logger      arbor.ILogger
}

// NewValidateHandler creates a new validation handler
func NewValidateHandler(prevalidateService *prevalidate.Service, logger arbor.ILogger) *ValidateHandler {
	return &ValidateHandler{
		prevalidate: prevalidateService,
		validate:    validator.New(),
		logger:      logger,
	}
}

// ValidateRequest carries the uploaded file's metadata
type ValidateRequest struct {
	FileName string `json:"file_name" validate:"required"`
	FileSize int64  `json:"file_size" validate:"gte=0"`
	FileRef  string `json:"file_ref" validate:"required"`
}

// ValidateFileHandler handles POST /api/validate. The response always
// carries the structural verdict; a rejected file is a 200 with valid=false,
// not an HTTP error, because the check itself succeeded.
func (h *ValidateHandler) ValidateFileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if PrincipalFrom(r.Context()) == nil {
		WriteError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := h.prevalidate.Validate(r.Context(), prevalidate.FileInput{
		Name: req.FileName,
		Size: req.FileSize,
		Ref:  req.FileRef,
	})
	WriteJSON(w, http.StatusOK, result)
}
