package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeenSet_Evicts_Oldest(t *testing.T) {
	req := require.New(t)
	seen := newSeenSet(2)

	req.True(seen.Add("a"))
	req.True(seen.Add("b"))
	req.False(seen.Add("a"))

	// When a third id comes in, "a" is forgotten
	req.True(seen.Add("c"))
	req.True(seen.Add("a"))
	req.False(seen.Add("c"))
}
