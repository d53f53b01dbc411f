package equipment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	t.Run("accepts canonical names", func(t *testing.T) {
		for _, c := range Categories() {
			got, err := ParseCategory(string(c))
			require.NoError(t, err)
			assert.Equal(t, c, got)
		}
	})

	t.Run("accepts remote table names", func(t *testing.T) {
		got, err := ParseCategory("tsd")
		require.NoError(t, err)
		assert.Equal(t, CategoryTerminal, got)

		got, err = ParseCategory("finger_scanners")
		require.NoError(t, err)
		assert.Equal(t, CategoryFingerScanner, got)
	})

	t.Run("rejects unknown strings", func(t *testing.T) {
		_, err := ParseCategory("laptops")
		assert.ErrorIs(t, err, ErrUnknownCategory)
	})
}

func TestCategory_OtherLoanable(t *testing.T) {
	other, ok := CategoryTerminal.OtherLoanable()
	require.True(t, ok)
	assert.Equal(t, CategoryFingerScanner, other)

	other, ok = CategoryFingerScanner.OtherLoanable()
	require.True(t, ok)
	assert.Equal(t, CategoryTerminal, other)

	_, ok = CategoryTablet.OtherLoanable()
	assert.False(t, ok)
}

func TestCategory_TableName(t *testing.T) {
	assert.Equal(t, "tsd", CategoryTerminal.TableName())
	assert.Equal(t, "finger_scanners", CategoryFingerScanner.TableName())
	assert.Equal(t, "desktop_scanners", CategoryDesktopScanner.TableName())
	assert.Equal(t, "tablets", CategoryTablet.TableName())
}
