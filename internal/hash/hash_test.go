package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReceipt(t *testing.T) {
	t.Run("known vector", func(t *testing.T) {
		got := Receipt("FP12345", "2024-03-01")
		assert.Equal(t, "ef37fd39fe5af5132298bb568b54eda9daea41cdc5f256a9e42908597997f71d", got)
	})

	t.Run("empty uid still hashes with separator", func(t *testing.T) {
		got := Receipt("", "2024-03-01")
		assert.Equal(t, "e1968c90b8914ac51f437855e64a11f8ae83053c8e4337e8eae2d1f87fa8e9c0", got)
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, Receipt("a", "2024-01-01"), Receipt("a", "2024-01-01"))
	})

	t.Run("uid and date both contribute", func(t *testing.T) {
		base := Receipt("a", "2024-01-01")
		assert.NotEqual(t, base, Receipt("b", "2024-01-01"))
		assert.NotEqual(t, base, Receipt("a", "2024-01-02"))
	})
}
