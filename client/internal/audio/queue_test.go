package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameQueueDeliversInOrder(t *testing.T) {
	q := NewFrameQueue(4, nil)
	q.Push([]int16{1})
	q.Push([]int16{2})
	q.Close()

	var got [][]int16
	for frame := range q.Frames() {
		got = append(got, frame)
	}
	require.Equal(t, [][]int16{{1}, {2}}, got)
}

func TestFrameQueueDropsNewestOnOverflow(t *testing.T) {
	q := NewFrameQueue(1, nil)
	q.Push([]int16{1})
	q.Push([]int16{2}) // dropped: queue already holds one frame
	q.Close()

	var got [][]int16
	for frame := range q.Frames() {
		got = append(got, frame)
	}
	require.Equal(t, [][]int16{{1}}, got)
}
