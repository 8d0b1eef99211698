package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lotterytesting "github.com/malbeclabs/lottery/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) LookupEnv {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLottery_Config_Load(t *testing.T) {
	t.Parallel()
	owner := "0x00000000000000000000000000000000000000aa"

	t.Run("defaults with owner from env", func(t *testing.T) {
		t.Parallel()
		cfg, err := Load([]string{"--env-file", "does-not-exist.env"}, envOf(map[string]string{"LOTTERY_OWNER": owner}))
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(owner), cfg.Engine.Owner)
		assert.Equal(t, ":8080", cfg.ListenAddr)
		assert.Equal(t, 20*time.Second, cfg.Engine.MinSettlementDelay)

		prices, err := cfg.TicketPrices()
		require.NoError(t, err)
		assert.Equal(t, lotterytesting.Units(1), prices[0])
		assert.Equal(t, lotterytesting.Units(1000), prices[3])
	})

	t.Run("missing owner", func(t *testing.T) {
		t.Parallel()
		_, err := Load([]string{"--env-file", "does-not-exist.env"}, envOf(nil))
		require.ErrorContains(t, err, "engine owner is required")
	})

	t.Run("layers yaml, dotenv, env and flags", func(t *testing.T) {
		t.Parallel()
		yamlPath := writeFile(t, "lottery.yaml", `
listen_addr: ":7000"
metrics_addr: ":7001"
engine:
  owner: "`+owner+`"
  ticket_prices: ["0.5", "5", "50", "500"]
  fee_interest: 250000
  min_settlement_delay: 45s
keeper:
  interval: 30s
refill:
  amount_out_min: "0.1"
`)
		envPath := writeFile(t, "test.env", "LOTTERY_METRICS_ADDR=:7101\nLOTTERY_ADMIN_TOKEN=from-dotenv\nLOTTERY_KEEPER_INTERVAL=1m\n")
		env := envOf(map[string]string{
			"LOTTERY_ADMIN_TOKEN": "from-env",
			"LOTTERY_AUTO_REFILL": "true",
		})

		cfg, err := Load([]string{"--config", yamlPath, "--env-file", envPath, "--keeper-interval", "2m"}, env)
		require.NoError(t, err)
		assert.Equal(t, ":7000", cfg.ListenAddr)
		assert.Equal(t, ":7101", cfg.MetricsAddr)
		assert.Equal(t, "from-env", cfg.AdminToken)
		assert.True(t, cfg.Engine.AutoRefill)
		assert.Equal(t, 2*time.Minute, cfg.Keeper.Interval)
		assert.Equal(t, 45*time.Second, cfg.Engine.MinSettlementDelay)
		assert.Equal(t, uint64(250000), cfg.Engine.FeeInterest)

		prices, err := cfg.TicketPrices()
		require.NoError(t, err)
		assert.Equal(t, "500000000000000000", prices[0].String())

		sc, err := cfg.SwapConfig()
		require.NoError(t, err)
		assert.Equal(t, "100000000000000000", sc.AmountOutMin.String())
		assert.Equal(t, DefaultCoordinator, sc.Coordinator)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name   string
			args   []string
			env    map[string]string
			yaml   string
			errMsg string
		}{
			{name: "bad env bool", env: map[string]string{"LOTTERY_OWNER": owner, "LOTTERY_AUTO_REFILL": "maybe"}, errMsg: "LOTTERY_AUTO_REFILL"},
			{name: "bad owner flag", args: []string{"--owner", "nope"}, errMsg: "invalid --owner"},
			{name: "unknown yaml key", env: map[string]string{"LOTTERY_OWNER": owner}, yaml: "bogus: 1\n", errMsg: "field bogus not found"},
			{name: "wrong price count", env: map[string]string{"LOTTERY_OWNER": owner}, yaml: "engine:\n  ticket_prices: [\"1\"]\n", errMsg: "expected 4 ticket prices"},
			{name: "fee interest too high", env: map[string]string{"LOTTERY_OWNER": owner, "LOTTERY_FEE_INTEREST": "1000001"}, errMsg: "fee interest"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				args := append([]string{"--env-file", "does-not-exist.env"}, tt.args...)
				if tt.yaml != "" {
					args = append(args, "--config", writeFile(t, "c.yaml", tt.yaml))
				}
				_, err := Load(args, envOf(tt.env))
				require.ErrorContains(t, err, tt.errMsg)
			})
		}
	})
}
