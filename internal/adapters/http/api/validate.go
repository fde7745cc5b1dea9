package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	service "github.com/okian/traderscore/internal/app"
	"github.com/okian/traderscore/pkg/logger"
)

// ValidateHandler handles validation requests.
type ValidateHandler struct {
	deps     Dependencies
	maxBody  int64
	maxBatch int
	logger   logger.Logger
}

// NewValidateHandler creates a new validate handler.
func NewValidateHandler(deps Dependencies) *ValidateHandler {
	return &ValidateHandler{
		deps:     deps,
		maxBody:  defaultMaxBodyBytes,
		maxBatch: defaultMaxBatchSize,
		logger:   logger.Named("api"),
	}
}

type batchRequest struct {
	Traders []service.ValidationInput `json:"traders"`
}

// HandleValidate handles POST /v1/validate requests.
func (h *ValidateHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var in service.ValidationInput
	if err := h.decode(w, r, &in); err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := h.deps.Validate(r.Context(), in)
	if err != nil {
		h.logger.Warn(r.Context(), "validation failed",
			logger.String("username", in.Profile.Username),
			logger.String("platform", string(in.Profile.Platform)),
			logger.Error(err),
		)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleValidateBatch handles POST /v1/validate/batch requests. Per-trader
// failures are reported in the body; the request itself still succeeds.
func (h *ValidateHandler) HandleValidateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := h.decode(w, r, &req); err != nil {
		writeServiceError(w, err)
		return
	}
	if len(req.Traders) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: no traders", ErrBadRequest))
		return
	}
	if len(req.Traders) > h.maxBatch {
		writeServiceError(w, fmt.Errorf("%w: %d traders, max %d", ErrBatchTooLarge, len(req.Traders), h.maxBatch))
		return
	}
	res, err := h.deps.ValidateBatch(r.Context(), req.Traders)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ValidateHandler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, tooLarge.Limit)
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
