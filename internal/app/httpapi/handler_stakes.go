package httpapi

import (
	"math/big"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

type positionResponse struct {
	ID        string    `json:"id"`
	Amount    string    `json:"amount"`
	StakedAt  time.Time `json:"staked_at"`
	UnlocksAt time.Time `json:"unlocks_at"`
}

type stakeSummaryResponse struct {
	User          string             `json:"user"`
	Token         string             `json:"token"`
	Balance       string             `json:"balance"`
	PendingReward string             `json:"pending_reward"`
	Positions     []positionResponse `json:"positions"`
}

func (h *handler) stakeSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	summary, err := h.app.Staking.Summary(r.Context(), user, tokenVar(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	lock := h.app.Staking.LockDuration()
	resp := stakeSummaryResponse{
		User:          summary.User,
		Token:         summary.Token,
		Balance:       summary.Balance.String(),
		PendingReward: summary.PendingReward.String(),
		Positions:     make([]positionResponse, 0, len(summary.Positions)),
	}
	for _, pos := range summary.Positions {
		resp.Positions = append(resp.Positions, positionResponse{
			ID:        pos.ID,
			Amount:    pos.Amount.String(),
			StakedAt:  pos.StakedAt,
			UnlocksAt: pos.UnlocksAt(lock),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) stake(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	amount, err := decodeAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token := tokenVar(r)
	balance, err := h.app.Staking.StakeToken(r.Context(), user, token, amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"token":   token,
		"balance": balance.String(),
	})
}

func (h *handler) unstake(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	amount, err := decodeAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token := tokenVar(r)
	balance, reward, err := h.app.Staking.UnstakeToken(r.Context(), user, token, amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   token,
		"balance": balance.String(),
		"reward":  reward.String(),
	})
}

type valueResponse struct {
	Token         string `json:"token"`
	Balance       string `json:"balance"`
	Price         string `json:"price"`
	PriceDecimals uint8  `json:"price_decimals"`
	PriceDisplay  string `json:"price_display"`
	Value         string `json:"value"`
}

func (h *handler) stakeValue(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	valuation, err := h.app.Staking.GetUserBalanceValue(r.Context(), user, tokenVar(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{
		Token:         valuation.Token,
		Balance:       valuation.Balance.String(),
		Price:         valuation.Price.Value.String(),
		PriceDecimals: valuation.Price.Decimals,
		PriceDisplay:  displayScaled(valuation.Price.Value, valuation.Price.Decimals),
		Value:         valuation.Value.String(),
	})
}

func (h *handler) pendingReward(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	token := tokenVar(r)
	pending, err := h.app.Staking.TokenToUserReward(r.Context(), token, user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":        token,
		"pending":      pending.String(),
		"reward_token": h.app.Staking.RewardToken(),
	})
}

func (h *handler) claimReward(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	token := tokenVar(r)
	paid, err := h.app.Staking.ClaimRewards(r.Context(), user, token)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":        token,
		"paid":         paid.String(),
		"reward_token": h.app.Staking.RewardToken(),
	})
}

func (h *handler) assetBalance(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	token := tokenVar(r)
	balance, err := h.app.Assets.BalanceOf(r.Context(), token, user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	allowance, err := h.app.Assets.Allowance(r.Context(), token, user, h.app.Custody())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     token,
		"holder":    user,
		"balance":   balance.String(),
		"allowance": allowance.String(),
	})
}

// approveCustody sets the caller's allowance for the staking custody account.
func (h *handler) approveCustody(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}
	amount, err := decodeAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token := tokenVar(r)
	if err := h.app.Assets.Approve(r.Context(), token, user, h.app.Custody(), amount); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     token,
		"spender":   h.app.Custody(),
		"allowance": amount.String(),
	})
}

// displayScaled renders an integer scaled by 10^decimals as a decimal string.
func displayScaled(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
