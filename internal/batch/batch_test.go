package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	t.Run("empty row set yields no batches", func(t *testing.T) {
		chunks, err := Split([]int{}, 3)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("rejects non positive size", func(t *testing.T) {
		_, err := Split([]int{1}, 0)
		assert.Error(t, err)
		_, err = Split([]int{1}, -2)
		assert.Error(t, err)
	})

	t.Run("last batch is short", func(t *testing.T) {
		chunks, err := Split([]int{1, 2, 3, 4, 5, 6, 7}, 3)
		require.NoError(t, err)
		assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, chunks)
	})

	t.Run("exact multiple", func(t *testing.T) {
		chunks, err := Split([]string{"a", "b", "c", "d"}, 2)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, chunks)
	})

	t.Run("appending to a batch does not clobber its neighbour", func(t *testing.T) {
		rows := []int{1, 2, 3, 4}
		chunks, err := Split(rows, 2)
		require.NoError(t, err)
		_ = append(chunks[0], 99)
		assert.Equal(t, []int{3, 4}, chunks[1])
	})
}

func TestSplitCoverage(t *testing.T) {
	for n := 0; n <= 40; n++ {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		for size := 1; size <= 12; size++ {
			chunks, err := Split(rows, size)
			require.NoError(t, err)

			assert.Len(t, chunks, (n+size-1)/size, "n=%d size=%d", n, size)

			var joined []int
			for _, c := range chunks {
				assert.NotEmpty(t, c)
				assert.LessOrEqual(t, len(c), size)
				joined = append(joined, c...)
			}
			if n == 0 {
				assert.Empty(t, joined)
				continue
			}
			assert.Equal(t, rows, joined, "n=%d size=%d", n, size)
		}
	}
}
