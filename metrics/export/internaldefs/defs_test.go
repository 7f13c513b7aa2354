package internaldefs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/azora-os/azauth"
)

func TestCumulative(t *testing.T) {
	assert.Equal(t, []uint64{1, 3, 6, 10, 15, 21, 28, 36}, Cumulative([]uint64{1, 2, 3, 4, 5, 6, 7, 8}))
	assert.Equal(t, []uint64{2, 2, 2, 2, 2, 2, 2, 2}, Cumulative([]uint64{2}))
	assert.Len(t, Cumulative(nil), len(azauth.HistogramBounds)+1)
}

func TestCounterNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	ids := map[azauth.MetricID]bool{}
	for _, def := range Counters {
		assert.True(t, strings.HasPrefix(def.Name, "azauth_"), def.Name)
		assert.True(t, strings.HasSuffix(def.Name, "_total"), def.Name)
		assert.False(t, seen[def.Name], def.Name)
		assert.False(t, ids[def.ID], def.Name)
		assert.NotEqual(t, azauth.MetricValidateLatency, def.ID)
		seen[def.Name] = true
		ids[def.ID] = true
	}
}

func TestUpperBounds(t *testing.T) {
	b := UpperBounds()
	assert.Equal(t, 0.005, b[0])
	assert.Equal(t, 0.5, b[len(b)-1])
}
