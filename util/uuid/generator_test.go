package uuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlakeUUIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := FlakeUUID()
		require.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestTimeGeneratorConsecutiveIDsDiffer(t *testing.T) {
	g := NewTimeGenerator()
	prev := g.GetUUID()
	for i := 0; i < 100; i++ {
		next := g.GetUUID()
		require.NotEqual(t, prev, next)
		prev = next
	}
}
