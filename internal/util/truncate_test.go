package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdefghij", 2))
}

func TestTruncateMiddle(t *testing.T) {
	small := "fits"
	assert.Equal(t, small, TruncateMiddle(small, 100))

	big := strings.Repeat("a", 500) + strings.Repeat("z", 500)
	out := TruncateMiddle(big, 100)
	assert.Contains(t, out, "output truncated: omitted 900 chars")
	assert.True(t, strings.HasPrefix(out, "a"))
	assert.True(t, strings.HasSuffix(out, "z"))
	// Head keeps roughly two thirds of the budget.
	assert.Equal(t, 66, strings.Count(strings.SplitN(out, "\n", 2)[0], "a"))
}
