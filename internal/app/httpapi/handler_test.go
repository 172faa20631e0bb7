package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	app "github.com/R3E-Network/staking_ledger/internal/app"
	"github.com/R3E-Network/staking_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/staking_ledger/internal/app/locks"
	stakingsvc "github.com/R3E-Network/staking_ledger/internal/app/services/staking"
	"github.com/R3E-Network/staking_ledger/internal/app/storage"
	"github.com/R3E-Network/staking_ledger/internal/config"
	"github.com/R3E-Network/staking_ledger/internal/middleware"
	"github.com/R3E-Network/staking_ledger/pkg/testutil"
)

const testSecret = "handler-test-secret"

func newTestApp(t *testing.T) (*app.Application, *testutil.Clock) {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		Owner:       "deployer",
		Custody:     "staking-vault",
		RewardToken: "KLA",
	}, testutil.QuietLogger("httpapi"))
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	clock := testutil.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	application.Staking.WithClock(clock)

	err = application.Bootstrap(context.Background(), &config.Bootstrap{
		Feeds:  []config.FeedSpec{{Base: "DAI", Quote: "USD", Decimals: 18, StaticPrice: "0.9998"}},
		Tokens: []config.TokenSpec{{Token: "DAI", Rate: "6", Oracle: "DAI/USD"}, {Token: "KLA", Rate: "6"}},
		Mints: []config.MintSpec{
			{Token: "KLA", Holder: "staking-vault", Amount: "1e24"},
			{Token: "DAI", Holder: "alice", Amount: "10e18"},
		},
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return application, clock
}

func newTestServer(t *testing.T, application *app.Application) http.Handler {
	t.Helper()
	handler, _ := NewServerHandler(application, ServerOptions{JWTSecret: testSecret}, testutil.QuietLogger("httpapi"))
	return handler
}

func bearer(t *testing.T, user string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + signed
}

func do(t *testing.T, handler http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set("Authorization", bearer(t, user))
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", resp.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, resp *httptest.ResponseRecorder, want int) {
	t.Helper()
	if resp.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, resp.Code, resp.Body.String())
	}
}

func TestPublicAndProtectedRoutes(t *testing.T) {
	application, _ := newTestApp(t)
	handler := newTestServer(t, application)

	expectStatus(t, do(t, handler, http.MethodGet, "/healthz", "", nil), http.StatusOK)
	expectStatus(t, do(t, handler, http.MethodGet, "/metrics", "", nil), http.StatusOK)
	expectStatus(t, do(t, handler, http.MethodGet, "/tokens", "", nil), http.StatusUnauthorized)
	expectStatus(t, do(t, handler, http.MethodGet, "/nowhere", "alice", nil), http.StatusNotFound)
	expectStatus(t, do(t, handler, http.MethodDelete, "/tokens/DAI", "alice", nil), http.StatusMethodNotAllowed)
}

func TestTokenRegistryRoutes(t *testing.T) {
	application, _ := newTestApp(t)
	handler := newTestServer(t, application)

	resp := do(t, handler, http.MethodGet, "/tokens", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	var tokens []tokenResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}

	expectStatus(t, do(t, handler, http.MethodPut, "/tokens/link", "alice", map[string]string{"rate": "2"}), http.StatusForbidden)

	resp = do(t, handler, http.MethodPut, "/tokens/link", "deployer", map[string]string{"rate": "2", "oracle_ref": "LINK/USD"})
	expectStatus(t, resp, http.StatusOK)
	body := decodeBody(t, resp)
	if body["token"] != "LINK" || body["rate"] != "2" || body["approved"] != true {
		t.Fatalf("unexpected token body %v", body)
	}

	resp = do(t, handler, http.MethodPost, "/tokens/LINK/approval", "deployer", nil)
	expectStatus(t, resp, http.StatusOK)
	if decodeBody(t, resp)["approved"] != false {
		t.Fatalf("expected approval to flip off")
	}

	expectStatus(t, do(t, handler, http.MethodPut, "/tokens/LINK", "deployer", map[string]string{"rate": "two"}), http.StatusBadRequest)
	expectStatus(t, do(t, handler, http.MethodPut, "/tokens/LINK", "deployer", map[string]string{"rate": "-1"}), http.StatusUnprocessableEntity)
	expectStatus(t, do(t, handler, http.MethodGet, "/tokens/NOPE", "alice", nil), http.StatusNotFound)
}

func TestStakeLifecycleRoutes(t *testing.T) {
	application, clock := newTestApp(t)
	handler := newTestServer(t, application)
	ten := "10000000000000000000"

	expectStatus(t, do(t, handler, http.MethodPost, "/stakes/DAI", "alice", map[string]string{"amount": ten}), http.StatusUnprocessableEntity)

	expectStatus(t, do(t, handler, http.MethodPost, "/assets/DAI/approve", "alice", map[string]string{"amount": ten}), http.StatusOK)
	resp := do(t, handler, http.MethodGet, "/assets/DAI/balance", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if body := decodeBody(t, resp); body["allowance"] != ten || body["balance"] != ten {
		t.Fatalf("unexpected asset body %v", body)
	}

	resp = do(t, handler, http.MethodPost, "/stakes/DAI", "alice", map[string]string{"amount": ten})
	expectStatus(t, resp, http.StatusCreated)
	if decodeBody(t, resp)["balance"] != ten {
		t.Fatalf("unexpected stake response %s", resp.Body.String())
	}

	expectStatus(t, do(t, handler, http.MethodPost, "/stakes/DAI", "alice", map[string]string{"amount": ten}), http.StatusConflict)
	expectStatus(t, do(t, handler, http.MethodPost, "/stakes/DAI", "alice", map[string]string{"amount": "0"}), http.StatusUnprocessableEntity)
	expectStatus(t, do(t, handler, http.MethodPost, "/stakes/DAI", "alice", map[string]string{"amount": "1.5"}), http.StatusBadRequest)
	expectStatus(t, do(t, handler, http.MethodPost, "/stakes/DAI", "alice", map[string]string{"amount": ten, "extra": "x"}), http.StatusBadRequest)

	resp = do(t, handler, http.MethodGet, "/stakes/DAI/value", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	value := decodeBody(t, resp)
	if value["value"] != "9998000000000000000" || value["price_display"] != "0.9998" {
		t.Fatalf("unexpected valuation %v", value)
	}
	expectStatus(t, do(t, handler, http.MethodGet, "/stakes/DAI/value", "bob", nil), http.StatusNotFound)

	expectStatus(t, do(t, handler, http.MethodPost, "/stakes/DAI/unstake", "alice", map[string]string{"amount": ten}), http.StatusConflict)
	expectStatus(t, do(t, handler, http.MethodPost, "/rewards/DAI/claim", "alice", nil), http.StatusNotFound)

	resp = do(t, handler, http.MethodGet, "/stakes/DAI", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	var summary stakeSummaryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.Positions) != 1 || !summary.Positions[0].UnlocksAt.Equal(clock.Now().Add(30*24*time.Hour)) {
		t.Fatalf("unexpected summary %+v", summary)
	}

	clock.Advance(31 * 24 * time.Hour)

	resp = do(t, handler, http.MethodPost, "/stakes/DAI/unstake", "alice", map[string]string{"amount": ten})
	expectStatus(t, resp, http.StatusOK)
	if body := decodeBody(t, resp); body["balance"] != "0" || body["reward"] != "60000000000000000000" {
		t.Fatalf("unexpected unstake response %v", body)
	}

	resp = do(t, handler, http.MethodGet, "/rewards/DAI", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if decodeBody(t, resp)["pending"] != "60000000000000000000" {
		t.Fatalf("unexpected pending reward %s", resp.Body.String())
	}

	resp = do(t, handler, http.MethodPost, "/rewards/DAI/claim", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if body := decodeBody(t, resp); body["paid"] != "60000000000000000000" || body["reward_token"] != "KLA" {
		t.Fatalf("unexpected claim response %v", body)
	}

	kla, err := application.Assets.BalanceOf(context.Background(), "KLA", "alice")
	if err != nil || kla.String() != "60000000000000000000" {
		t.Fatalf("expected KLA reward in alice's balance, got %v %v", kla, err)
	}
}

func TestFeedRoutes(t *testing.T) {
	application, _ := newTestApp(t)
	handler := newTestServer(t, application)

	resp := do(t, handler, http.MethodGet, "/feeds", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	var feeds []feedResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &feeds); err != nil || len(feeds) != 1 {
		t.Fatalf("unexpected feeds %s: %v", resp.Body.String(), err)
	}

	resp = do(t, handler, http.MethodGet, "/feeds/"+feeds[0].ID+"/snapshots", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	var snaps []snapshotResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &snaps); err != nil || len(snaps) != 1 {
		t.Fatalf("unexpected snapshots %s: %v", resp.Body.String(), err)
	}
	if snaps[0].Display != "0.9998" || snaps[0].Source != "static" {
		t.Fatalf("unexpected snapshot %+v", snaps[0])
	}

	expectStatus(t, do(t, handler, http.MethodGet, "/feeds/NOPE/snapshots", "alice", nil), http.StatusNotFound)
}

func TestHeaderIdentityWithoutSecret(t *testing.T) {
	application, _ := newTestApp(t)
	handler, limiter := NewServerHandler(application, ServerOptions{RateLimitRPS: 1, RateLimitBurst: 1}, testutil.QuietLogger("httpapi"))
	if limiter == nil {
		t.Fatalf("expected a rate limiter")
	}

	req := httptest.NewRequest(http.MethodGet, "/rewards/DAI", nil)
	req.Header.Set(CallerHeader, "carol")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	expectStatus(t, resp, http.StatusOK)
	if resp.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected tracing to set a request id")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	expectStatus(t, resp, http.StatusTooManyRequests)

	anon := httptest.NewRecorder()
	handler.ServeHTTP(anon, httptest.NewRequest(http.MethodGet, "/stakes/DAI", nil))
	expectStatus(t, anon, http.StatusUnauthorized)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		stakingsvc.ErrUnauthorized:                     http.StatusForbidden,
		stakingsvc.ErrNoSuchStake:                      http.StatusNotFound,
		fmt.Errorf("wrapped: %w", storage.ErrNotFound): http.StatusNotFound,
		stakingsvc.ErrLockNotElapsed:                   http.StatusConflict,
		stakingsvc.ErrInsufficientBalance:              http.StatusUnprocessableEntity,
		fmt.Errorf("debit: %w", asset.ErrNotApproved):  http.StatusUnprocessableEntity,
		stakingsvc.ErrOracleUnavailable:                http.StatusServiceUnavailable,
		locks.ErrNotAcquired:                           http.StatusServiceUnavailable,
		errors.New("boom"):                             http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
