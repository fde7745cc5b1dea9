package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/okian/traderscore/internal/domain/model"
)

// RankingsHandler handles ranking and trader lookups.
type RankingsHandler struct {
	deps Dependencies
}

// NewRankingsHandler creates a new rankings handler.
func NewRankingsHandler(deps Dependencies) *RankingsHandler {
	return &RankingsHandler{deps: deps}
}

type rankingsResponse struct {
	Platform model.Platform        `json:"platform,omitempty"`
	Count    int                   `json:"count"`
	Rankings []model.RankingResult `json:"rankings"`
}

// HandleGetRankings handles GET /v1/rankings?platform=P&limit=N requests.
// Both parameters are optional.
func (h *RankingsHandler) HandleGetRankings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var platform model.Platform
	if raw := q.Get("platform"); raw != "" {
		p, err := model.ParsePlatform(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		platform = p
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%w: limit %q", ErrBadRequest, raw))
			return
		}
		limit = n
	}

	rows, err := h.deps.GetRankings(r.Context(), platform, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if rows == nil {
		rows = []model.RankingResult{}
	}
	writeJSON(w, http.StatusOK, rankingsResponse{Platform: platform, Count: len(rows), Rankings: rows})
}

// HandleGetTrader handles GET /v1/traders/{platform}/{username} requests.
func (h *RankingsHandler) HandleGetTrader(w http.ResponseWriter, r *http.Request) {
	platform, err := model.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	rec, err := h.deps.GetTrader(r.Context(), chi.URLParam(r, "username"), platform)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
