package fee

import (
	"context"
	"math/big"
	"testing"

	"github.com/malbeclabs/lottery/engine/pkg/token"
	lotterytesting "github.com/malbeclabs/lottery/utils/pkg/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLottery_Fee_ProtocolFee(t *testing.T) {
	t.Parallel()

	t.Run("one tenth of the cost", func(t *testing.T) {
		t.Parallel()
		price, err := token.ParseUnits("1.33")
		require.NoError(t, err)
		assert.Equal(t, "10.241", token.FormatUnits(ProtocolFee(77, price)))
	})

	t.Run("zero operands", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 0, ProtocolFee(0, big.NewInt(100)).Sign())
		assert.Equal(t, 0, ProtocolFee(5, new(big.Int)).Sign())
		assert.Equal(t, 0, ProtocolFee(5, nil).Sign())
	})

	t.Run("truncates", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, big.NewInt(1), ProtocolFee(1, big.NewInt(19)))
		assert.Equal(t, big.NewInt(0), ProtocolFee(3, big.NewInt(3)))
	})

	t.Run("does not alias the price", func(t *testing.T) {
		t.Parallel()
		price := big.NewInt(100)
		_ = ProtocolFee(3, price)
		_ = TicketCost(3, price)
		assert.Equal(t, big.NewInt(100), price)
	})
}

func TestLottery_Fee_Vault(t *testing.T) {
	t.Parallel()

	feeToken := lotterytesting.Addr(1)
	engine := lotterytesting.Addr(2)
	vaultAddr := lotterytesting.Addr(3)

	newVault := func(t *testing.T) (*Vault, *token.Ledger) {
		bank := token.NewLedger()
		require.NoError(t, bank.Mint(feeToken, engine, big.NewInt(1000)))
		v, err := NewVault(VaultConfig{
			Logger:  lotterytesting.NewLogger(),
			Bank:    bank,
			Address: vaultAddr,
			Token:   feeToken,
		})
		require.NoError(t, err)
		return v, bank
	}

	t.Run("collects fee", func(t *testing.T) {
		t.Parallel()
		v, bank := newVault(t)
		require.NoError(t, v.DistributeFee(context.Background(), engine, big.NewInt(100), 5000))
		assert.Equal(t, big.NewInt(100), v.Total())
		assert.Equal(t, big.NewInt(900), bank.BalanceOf(feeToken, engine))
	})

	t.Run("rejects interest above max", func(t *testing.T) {
		t.Parallel()
		v, _ := newVault(t)
		err := v.DistributeFee(context.Background(), engine, big.NewInt(1), MaxInterest+1)
		require.Error(t, err)
		assert.Equal(t, 0, v.Total().Sign())
	})

	t.Run("insufficient funds", func(t *testing.T) {
		t.Parallel()
		v, _ := newVault(t)
		err := v.DistributeFee(context.Background(), engine, big.NewInt(1001), 0)
		require.ErrorIs(t, err, token.ErrInsufficientBalance)
	})

	t.Run("config validation", func(t *testing.T) {
		t.Parallel()
		_, err := NewVault(VaultConfig{})
		require.EqualError(t, err, "logger is required")
		_, err = NewVault(VaultConfig{Logger: lotterytesting.NewLogger(), Bank: token.NewLedger()})
		require.EqualError(t, err, "vault address is required")
	})
}
