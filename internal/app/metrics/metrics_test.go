package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/":                        "/",
		"/healthz":                 "/healthz",
		"/tokens":                  "/tokens",
		"/tokens/KLA":              "/tokens/:token",
		"/stakes/KLA/unstake":      "/stakes/:token/unstake",
		"/rewards/LINK/claim":      "/rewards/:token/claim",
		"/assets/KLA/balance":      "/assets/:token/balance",
		"/feeds":                   "/feeds",
		"/feeds/abc-123/snapshots": "/feeds/:feed/snapshots",
		"/something/else/entirely": "/something",
	}
	for in, want := range cases {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestInstrumentHandlerExposesCounters(t *testing.T) {
	RecordStakingOperation("stake", "KLA", "", 2*time.Millisecond)
	RecordPriceRefresh("DAI/USD", true)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	InstrumentHandler(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tokens/KLA", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	out := httptest.NewRecorder()
	Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := out.Body.String()

	assert.True(t, strings.Contains(body, `staking_ledger_staking_operations_total{operation="stake",outcome="ok",token="KLA"}`))
	assert.True(t, strings.Contains(body, `staking_ledger_pricefeed_refreshes_total{pair="DAI/USD",success="true"}`))
	assert.True(t, strings.Contains(body, `staking_ledger_http_requests_total{method="GET",path="/tokens/:token",status="418"}`))
}
