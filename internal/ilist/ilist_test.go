package ilist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct {
	id   int
	node Node[*item]
}

func newItem(id int) *item {
	it := &item{id: id}
	it.node.Value = it
	return it
}

func Test_PushPopOrder(t *testing.T) {
	var l List[*item]
	a, b, c := newItem(1), newItem(2), newItem(3)

	l.PushBack(&a.node)
	l.PushBack(&b.node)
	l.PushFront(&c.node)

	require.Equal(t, 3, l.Len())
	require.Equal(t, c, l.Front().Value)
	require.Equal(t, b, l.Back().Value)

	require.Equal(t, c, l.PopFront().Value)
	require.Equal(t, a, l.PopFront().Value)
	require.Equal(t, b, l.PopFront().Value)
	require.Nil(t, l.PopFront())
	require.Equal(t, 0, l.Len())
}

func Test_RemoveMiddle(t *testing.T) {
	var l List[*item]
	a, b, c := newItem(1), newItem(2), newItem(3)
	l.PushBack(&a.node)
	l.PushBack(&b.node)
	l.PushBack(&c.node)

	l.Remove(&b.node)
	require.False(t, b.node.InList())
	require.Equal(t, 2, l.Len())
	require.Equal(t, a, l.Front().Value)
	require.Equal(t, c, l.Next(l.Front()).Value)
	require.Nil(t, l.Next(l.Back()))
}

func Test_RelinkAfterRemove(t *testing.T) {
	var l List[*item]
	a := newItem(1)
	l.PushBack(&a.node)
	l.Remove(&a.node)
	l.PushBack(&a.node)
	require.True(t, a.node.InList())
	require.Equal(t, 1, l.Len())
}

func Test_DoubleInsertPanics(t *testing.T) {
	var l List[*item]
	a := newItem(1)
	l.PushBack(&a.node)
	require.Panics(t, func() { l.PushBack(&a.node) })
}
