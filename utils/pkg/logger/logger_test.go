package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLottery_Logger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 4, 5, 6, 7, 891_000_000, time.FixedZone("x", 3600))
	assert.Equal(t, "2026-03-04T04:06:07.891Z", formatRFC3339Millis(ts))
}

func TestLottery_Logger_NewWithWriter(t *testing.T) {
	t.Parallel()

	t.Run("drops empty string attributes", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter(&buf, false)
		log.Info("lottery: round filled", "round", 7, "reason", "")
		out := buf.String()
		require.Contains(t, out, "lottery: round filled")
		assert.Contains(t, out, "round=7")
		assert.NotContains(t, out, "reason")
	})

	t.Run("debug only when verbose", func(t *testing.T) {
		t.Parallel()
		var quiet, verbose bytes.Buffer
		NewWithWriter(&quiet, false).Debug("hidden")
		NewWithWriter(&verbose, true).Debug("shown")
		assert.Empty(t, quiet.String())
		assert.Contains(t, verbose.String(), "shown")
	})
}
