package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("STAKING_OWNER", "deployer")
	t.Setenv("STAKING_LOCK_DAYS", "7")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "deployer", cfg.Staking.Owner)
	assert.Equal(t, 7*24*time.Hour, cfg.Staking.LockDuration())
	assert.Equal(t, "staking-vault", cfg.Staking.Custody)
	assert.Equal(t, "KLA", cfg.Staking.RewardToken)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.Equal(t, 40, cfg.RateLimit.Burst)
	assert.Equal(t, "price", cfg.PriceFeed.PricePath)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("STAKING_OWNER=from-file\nSTAKING_CUSTODY=vault-1\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("STAKING_OWNER")
		os.Unsetenv("STAKING_CUSTODY")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Staking.Owner)
	assert.Equal(t, "vault-1", cfg.Staking.Custody)
}

func TestLoadRequiresOwner(t *testing.T) {
	t.Setenv("STAKING_OWNER", "")
	_, err := Load(filepath.Join(t.TempDir(), "none.env"))
	assert.Error(t, err)
}

func TestValidateRejectsBadLock(t *testing.T) {
	cfg := Config{Staking: StakingConfig{Owner: "o", Custody: "v", LockDays: 0}}
	assert.Error(t, cfg.Validate())
}

func TestLoadBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	doc := `
feeds:
  - base: kla
    quote: usd
    decimals: 18
    static_price: "2000"
tokens:
  - token: KLA
    rate: "6"
    oracle: KLA/USD
  - token: LINK
    rate: "1"
    approved: false
mints:
  - token: KLA
    holder: staking-vault
    amount: "1e24"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	b, err := LoadBootstrap(path)
	require.NoError(t, err)
	require.Len(t, b.Feeds, 1)
	assert.Equal(t, "KLA/USD", b.Feeds[0].Pair())
	require.Len(t, b.Tokens, 2)
	assert.Nil(t, b.Tokens[0].Approved)
	require.NotNil(t, b.Tokens[1].Approved)
	assert.False(t, *b.Tokens[1].Approved)

	supply, err := ParseAmount(b.Mints[0].Amount)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000000", supply.String())
}

func TestLoadBootstrapRejectsBadRate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tokens:\n  - token: LINK\n    rate: \"0.5\"\n"), 0o600))
	_, err := LoadBootstrap(path)
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	for raw, want := range map[string]string{
		"60":     "60",
		"2.5e18": "2500000000000000000",
		" 10 ":   "10",
	} {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got.String(), raw)
	}
	for _, raw := range []string{"", "-1", "1.5", "abc"} {
		_, err := ParseAmount(raw)
		assert.Error(t, err, raw)
	}
}
