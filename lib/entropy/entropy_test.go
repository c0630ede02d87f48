package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameSeedSameSequence(t *testing.T) {
	a := New("lesson-1")
	b := New("lesson-1")

	for i := 0; i < 50; i++ {
		require.Equal(t, a.Float64(), b.Float64())
		require.Equal(t, a.IntN(1000), b.IntN(1000))
	}

	bufA := make([]byte, 32)
	bufB := make([]byte, 32)
	_, err := a.Read(bufA)
	require.NoError(t, err)
	_, err = b.Read(bufB)
	require.NoError(t, err)
	assert.Equal(t, bufA, bufB)
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := New("alpha")
	b := New("beta")

	same := 0
	for i := 0; i < 20; i++ {
		if a.IntN(1<<30) == b.IntN(1<<30) {
			same++
		}
	}
	assert.Less(t, same, 20)
}

func TestBetween(t *testing.T) {
	s := New("range")
	for i := 0; i < 200; i++ {
		v := s.Between(10, 20)
		assert.GreaterOrEqual(t, v, 10.0)
		assert.Less(t, v, 20.0)
	}
	assert.Equal(t, 0, s.IntN(0))
	assert.Equal(t, "range", s.Seed())
}
