package pow2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NextPowerOfTwo(t *testing.T) {
	cases := []struct {
		in, want uint64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{5, 8},
		{64, 64},
		{65, 128},
		{1 << 32, 1 << 32},
		{(1 << 32) + 1, 1 << 33},
	}
	for _, c := range cases {
		require.Equal(t, c.want, NextPowerOfTwo(c.in), "NextPowerOfTwo(%d)", c.in)
	}
}

func Test_PrevPowerOfTwo(t *testing.T) {
	require.Equal(t, uint64(1), PrevPowerOfTwo(1))
	require.Equal(t, uint64(4), PrevPowerOfTwo(7))
	require.Equal(t, uint64(8), PrevPowerOfTwo(8))
	require.Equal(t, uint64(1<<33), PrevPowerOfTwo((1<<34)-1))
}

func Test_AlignTo(t *testing.T) {
	require.Equal(t, uint64(0), AlignTo(0, 8))
	require.Equal(t, uint64(8), AlignTo(1, 8))
	require.Equal(t, uint64(8), AlignTo(8, 8))
	require.Equal(t, uint64(16), AlignTo(9, 8))
	require.Equal(t, uint64(4096), AlignTo(1, 4096))
}

func Test_IsAligned(t *testing.T) {
	require.True(t, IsAligned(0, 64))
	require.True(t, IsAligned(128, 64))
	require.False(t, IsAligned(96, 64))
}

func Test_Log2(t *testing.T) {
	require.Equal(t, uint(0), Log2(1))
	require.Equal(t, uint(3), Log2(8))
	require.Equal(t, uint(3), Log2(15))
	require.Equal(t, uint(4), Log2(16))
}
