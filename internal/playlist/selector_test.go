package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectSource(t *testing.T) {
	t.Run("highest bandwidth wins", func(t *testing.T) {
		got, err := SelectSource([]SourceRendition{
			{URI: "hi.m3u8", Bandwidth: 5000000},
			{URI: "mid.m3u8", Bandwidth: 3000000},
			{URI: "lo.m3u8", Bandwidth: 1500000},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5000000), got.Bandwidth)
		assert.Equal(t, "hi.m3u8", got.URI)
	})

	t.Run("order does not matter", func(t *testing.T) {
		got, err := SelectSource([]SourceRendition{
			{URI: "lo.m3u8", Bandwidth: 1500000},
			{URI: "hi.m3u8", Bandwidth: 5000000},
		})
		require.NoError(t, err)
		assert.Equal(t, "hi.m3u8", got.URI)
	})

	t.Run("ties go to the first listed", func(t *testing.T) {
		got, err := SelectSource([]SourceRendition{
			{URI: "a.m3u8", Bandwidth: 3000000},
			{URI: "b.m3u8", Bandwidth: 3000000},
		})
		require.NoError(t, err)
		assert.Equal(t, "a.m3u8", got.URI)
	})

	t.Run("single entry", func(t *testing.T) {
		got, err := SelectSource([]SourceRendition{{URI: "only.m3u8", Bandwidth: 800000}})
		require.NoError(t, err)
		assert.Equal(t, "only.m3u8", got.URI)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := SelectSource(nil)
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}
