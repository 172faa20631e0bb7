package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/staking_ledger/internal/app"
	"github.com/R3E-Network/staking_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/staking_ledger/internal/app/locks"
	"github.com/R3E-Network/staking_ledger/internal/app/metrics"
	stakingsvc "github.com/R3E-Network/staking_ledger/internal/app/services/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
	"github.com/R3E-Network/staking_ledger/internal/middleware"
)

var errNoCaller = errors.New("caller identity missing")

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the staking REST API. Callers are
// identified by middleware.GetUserID, so the router must sit behind an
// identity middleware.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/tokens", h.listTokens).Methods(http.MethodGet)
	r.HandleFunc("/tokens/{token}", h.getToken).Methods(http.MethodGet)
	r.HandleFunc("/tokens/{token}", h.setTokenData).Methods(http.MethodPut)
	r.HandleFunc("/tokens/{token}/approval", h.changeApproval).Methods(http.MethodPost)

	r.HandleFunc("/stakes/{token}", h.stakeSummary).Methods(http.MethodGet)
	r.HandleFunc("/stakes/{token}", h.stake).Methods(http.MethodPost)
	r.HandleFunc("/stakes/{token}/unstake", h.unstake).Methods(http.MethodPost)
	r.HandleFunc("/stakes/{token}/value", h.stakeValue).Methods(http.MethodGet)

	r.HandleFunc("/rewards/{token}", h.pendingReward).Methods(http.MethodGet)
	r.HandleFunc("/rewards/{token}/claim", h.claimReward).Methods(http.MethodPost)

	r.HandleFunc("/assets/{token}/balance", h.assetBalance).Methods(http.MethodGet)
	r.HandleFunc("/assets/{token}/approve", h.approveCustody).Methods(http.MethodPost)

	r.HandleFunc("/feeds", h.listFeeds).Methods(http.MethodGet)
	r.HandleFunc("/feeds/{feed}/snapshots", h.listSnapshots).Methods(http.MethodGet)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// caller returns the authenticated identity or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := middleware.GetUserID(r.Context())
	if user == "" {
		writeError(w, http.StatusUnauthorized, errNoCaller)
		return "", false
	}
	return user, true
}

func tokenVar(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(mux.Vars(r)["token"]))
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// parseAmount reads a base-10 integer string.
func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("amount is required")
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", raw)
	}
	return v, nil
}

func decodeAmount(r *http.Request) (*big.Int, error) {
	var payload amountRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		return nil, err
	}
	return parseAmount(payload.Amount)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, stakingsvc.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, stakingsvc.ErrNoSuchStake),
		errors.Is(err, stakingsvc.ErrNoBalance),
		errors.Is(err, stakingsvc.ErrNoRewardPending),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, stakingsvc.ErrDuplicateStake),
		errors.Is(err, stakingsvc.ErrLockNotElapsed),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, stakingsvc.ErrInvalidAmount),
		errors.Is(err, stakingsvc.ErrTokenNotApproved),
		errors.Is(err, stakingsvc.ErrInsufficientBalance),
		errors.Is(err, stakingsvc.ErrOverflow),
		errors.Is(err, asset.ErrInsufficientFunds),
		errors.Is(err, asset.ErrNotApproved),
		errors.Is(err, asset.ErrInvalidTransfer):
		return http.StatusUnprocessableEntity
	case errors.Is(err, stakingsvc.ErrOracleUnavailable),
		errors.Is(err, locks.ErrNotAcquired):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
