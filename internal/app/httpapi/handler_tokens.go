package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/staking_ledger/internal/app/domain/pricefeed"
	domain "github.com/R3E-Network/staking_ledger/internal/app/domain/staking"
)

type tokenResponse struct {
	Token     string    `json:"token"`
	Rate      string    `json:"rate"`
	OracleRef string    `json:"oracle_ref,omitempty"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newTokenResponse(entry domain.TokenEntry) tokenResponse {
	rate := "0"
	if entry.Rate != nil {
		rate = entry.Rate.String()
	}
	return tokenResponse{
		Token:     entry.Token,
		Rate:      rate,
		OracleRef: entry.OracleRef,
		Approved:  entry.Approved,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}
}

func (h *handler) listTokens(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Staking.ListTokens(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]tokenResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, newTokenResponse(entry))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getToken(w http.ResponseWriter, r *http.Request) {
	entry, err := h.app.Staking.Token(r.Context(), tokenVar(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(entry))
}

func (h *handler) setTokenData(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	var payload struct {
		Rate      string `json:"rate"`
		OracleRef string `json:"oracle_ref"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := parseAmount(payload.Rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.app.Staking.SetTokensData(r.Context(), user, tokenVar(r), rate, payload.OracleRef)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(entry))
}

func (h *handler) changeApproval(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	entry, err := h.app.Staking.ChangeTokenApproval(r.Context(), user, tokenVar(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(entry))
}

type feedResponse struct {
	ID             string `json:"id"`
	Pair           string `json:"pair"`
	Decimals       uint8  `json:"decimals"`
	UpdateInterval string `json:"update_interval"`
	Active         bool   `json:"active"`
}

func (h *handler) listFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.app.PriceFeeds.ListFeeds(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]feedResponse, 0, len(feeds))
	for _, feed := range feeds {
		out = append(out, feedResponse{
			ID:             feed.ID,
			Pair:           feed.Pair,
			Decimals:       feed.Decimals,
			UpdateInterval: feed.UpdateInterval,
			Active:         feed.Active,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type snapshotResponse struct {
	Price       string    `json:"price"`
	Display     string    `json:"display"`
	Decimals    uint8     `json:"decimals"`
	Source      string    `json:"source,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

func (h *handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	feed, err := h.app.PriceFeeds.FindFeed(r.Context(), mux.Vars(r)["feed"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	snaps, err := h.app.PriceFeeds.ListSnapshots(r.Context(), feed.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]snapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, newSnapshotResponse(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

func newSnapshotResponse(snap pricefeed.Snapshot) snapshotResponse {
	return snapshotResponse{
		Price:       snap.Price.String(),
		Display:     displayScaled(snap.Price, snap.Decimals),
		Decimals:    snap.Decimals,
		Source:      snap.Source,
		CollectedAt: snap.CollectedAt,
	}
}
