package placement

import (
	"testing"

	"github.com/clustdock/clustdock/pkg/rangeset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectEmptyExisting(t *testing.T) {
	got, err := Select(3, rangeset.Set{})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestSelectGapFilling(t *testing.T) {
	existing := rangeset.NewSet(0, 1, 2, 5)
	got, err := Select(2, existing)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, got)
}

func TestSelectExtendUpward(t *testing.T) {
	existing := rangeset.NewSet(0, 1, 2, 3, 4)
	got, err := Select(3, existing)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7}, got)
}

func TestSelectDisjointFromExisting(t *testing.T) {
	existing := rangeset.NewSet(1, 3, 4, 8, 9, 20)
	got, err := Select(5, existing)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	seen := map[int]bool{}
	for _, idx := range got {
		assert.False(t, existing[idx], "index %d must not collide with existing", idx)
		assert.False(t, seen[idx], "index %d must be pairwise distinct", idx)
		seen[idx] = true
	}
}

func TestSelectInvalidCount(t *testing.T) {
	_, err := Select(0, rangeset.Set{})
	require.Error(t, err)
	var ic *InvalidCount
	require.ErrorAs(t, err, &ic)

	_, err = Select(-1, rangeset.Set{})
	require.Error(t, err)
}
