package buffer_test

import (
	"testing"

	"github.com/jroosing/inetstack/internal/buffer"
	"github.com/stretchr/testify/require"
)

func TestFromSliceRoundTrip(t *testing.T) {
	b, err := buffer.FromSlice([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, b.Len())
	require.Equal(t, []byte("hello world"), b.AsSlice())
	b.Release()
}

func TestAdjustHeadTailZeroCopy(t *testing.T) {
	b, err := buffer.FromSlice([]byte("0123456789"))
	require.NoError(t, err)
	defer b.Release()

	head := b.AdjustHead(2)
	require.Equal(t, []byte("23456789"), head.AsSlice())

	both := head.AdjustTail(3)
	require.Equal(t, []byte("23456"), both.AsSlice())
	require.Equal(t, 5, both.Len())
}

func TestCloneBumpsRefcountAndBlocksWritable(t *testing.T) {
	b, err := buffer.FromSlice([]byte("payload"))
	require.NoError(t, err)

	_, writable := b.Writable()
	require.True(t, writable, "sole reference should be writable")

	clone := b.Clone()
	_, writable = b.Writable()
	require.False(t, writable, "shared reference must not be writable")

	clone.Release()
	_, writable = b.Writable()
	require.True(t, writable, "after clone release, sole owner is writable again")

	b.Release()
}

func TestEmptySlice(t *testing.T) {
	b, err := buffer.FromSlice(nil)
	require.NoError(t, err)
	require.Equal(t, 0, b.Len())
}

func TestOversizedSliceBypassesPool(t *testing.T) {
	big := make([]byte, 4096)
	b, err := buffer.FromSlice(big)
	require.NoError(t, err)
	require.Equal(t, 4096, b.Len())
	b.Release()
}
