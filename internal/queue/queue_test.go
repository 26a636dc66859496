package queue_test

import (
	"errors"
	"testing"

	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/queue"
	"github.com/stretchr/testify/require"
)

func TestInsertAllocatesLowestFreeInteger(t *testing.T) {
	tbl := queue.NewTable[string]()

	a := tbl.Insert("a")
	b := tbl.Insert("b")
	c := tbl.Insert("c")
	require.Equal(t, queue.QD(0), a)
	require.Equal(t, queue.QD(1), b)
	require.Equal(t, queue.QD(2), c)

	require.NoError(t, tbl.Remove(b))

	d := tbl.Insert("d")
	require.Equal(t, queue.QD(1), d, "removed descriptor must be reissued before a higher one")
}

func TestGetUnknownQDReturnsBadFD(t *testing.T) {
	tbl := queue.NewTable[int]()
	_, err := tbl.Get(queue.QD(7))
	require.True(t, errors.Is(err, ierrors.ErrBadFD))
}

func TestGetRemovedQDReturnsBadFD(t *testing.T) {
	tbl := queue.NewTable[int]()
	qd := tbl.Insert(1)
	require.NoError(t, tbl.Remove(qd))
	_, err := tbl.Get(qd)
	require.True(t, errors.Is(err, ierrors.ErrBadFD))
}

func TestReplaceUpdatesInPlace(t *testing.T) {
	tbl := queue.NewTable[int]()
	qd := tbl.Insert(1)
	require.NoError(t, tbl.Replace(qd, 2))
	v, err := tbl.Get(qd)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestRemoveTwiceFails(t *testing.T) {
	tbl := queue.NewTable[int]()
	qd := tbl.Insert(1)
	require.NoError(t, tbl.Remove(qd))
	require.Error(t, tbl.Remove(qd))
}

func TestLenTracksLiveDescriptors(t *testing.T) {
	tbl := queue.NewTable[int]()
	require.Equal(t, 0, tbl.Len())
	a := tbl.Insert(1)
	tbl.Insert(2)
	require.Equal(t, 2, tbl.Len())
	require.NoError(t, tbl.Remove(a))
	require.Equal(t, 1, tbl.Len())
}
