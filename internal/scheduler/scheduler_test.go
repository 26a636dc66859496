package scheduler_test

import (
	"errors"
	"testing"

	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/scheduler"
	"github.com/stretchr/testify/require"
)

type onceTask struct {
	polls int
	value any
}

func (t *onceTask) Poll() scheduler.Status {
	t.polls++
	return scheduler.Ready(t.value)
}

func TestInsertRunsOnFirstPoll(t *testing.T) {
	s := scheduler.New(0)
	task := &onceTask{value: 42}
	h, err := s.Insert(task)
	require.NoError(t, err)

	done, ok := s.Peek(h)
	require.True(t, ok)
	require.False(t, done)

	s.Poll()
	v, ok := s.Take(h)
	require.True(t, ok)
	require.Equal(t, 42, v)
	require.Equal(t, 1, task.polls)
}

func TestTakeBeforeCompletionFails(t *testing.T) {
	s := scheduler.New(0)
	blocked := &manualTask{}
	h, _ := s.Insert(blocked)
	s.Poll()
	_, ok := s.Take(h)
	require.False(t, ok)
}

type manualTask struct {
	wake   func()
	ready  bool
	result any
}

func (t *manualTask) Poll() scheduler.Status {
	if !t.ready {
		return scheduler.Pending
	}
	return scheduler.Ready(t.result)
}

func TestExternalWakeResumesSuspendedTask(t *testing.T) {
	s := scheduler.New(0)
	task := &manualTask{}
	h, _ := s.Insert(task)

	s.Poll() // first poll: task reports Pending, stays suspended
	done, _ := s.Peek(h)
	require.False(t, done)

	task.ready = true
	task.result = "go"
	s.Wake(h)
	s.Poll()

	v, ok := s.Take(h)
	require.True(t, ok)
	require.Equal(t, "go", v)
}

// selfRewokeTask wakes itself from within its own Poll call until it has
// run wantRuns times, then completes. Used to exercise the same-tick
// re-run cap.
type selfRewokeTask struct {
	s        *scheduler.Scheduler
	h        scheduler.Handle
	runs     int
	wantRuns int
}

func (t *selfRewokeTask) Poll() scheduler.Status {
	t.runs++
	if t.runs >= t.wantRuns {
		return scheduler.Ready(t.runs)
	}
	t.s.Wake(t.h)
	return scheduler.Pending
}

func TestSelfRewokeCappedAtOncePerTick(t *testing.T) {
	s := scheduler.New(0)
	task := &selfRewokeTask{s: s, wantRuns: 5}
	h, _ := s.Insert(task)
	task.h = h

	s.Poll()
	require.Equal(t, 2, task.runs, "self-wake must be capped to one extra run per tick")

	done, _ := s.Peek(h)
	require.False(t, done)

	s.Poll()
	require.Equal(t, 4, task.runs)

	s.Poll()
	v, ok := s.Take(h)
	require.True(t, ok)
	require.Equal(t, 5, v)
}

func TestDropCancelsPendingTask(t *testing.T) {
	s := scheduler.New(0)
	task := &manualTask{}
	h, _ := s.Insert(task)
	s.Poll()
	s.Drop(h)

	_, ok := s.Peek(h)
	require.False(t, ok, "handle must be invalid after Drop")
}

func TestCapacityExceededReturnsEAgain(t *testing.T) {
	s := scheduler.New(1)
	_, err := s.Insert(&onceTask{})
	require.NoError(t, err)

	_, err = s.Insert(&onceTask{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ierrors.ErrAgain))
}

func TestSlotReusedAfterTakeWithNewGeneration(t *testing.T) {
	s := scheduler.New(1)
	first := &onceTask{value: 1}
	h1, _ := s.Insert(first)
	s.Poll()
	_, _ = s.Take(h1)

	second := &onceTask{value: 2}
	h2, err := s.Insert(second)
	require.NoError(t, err)
	s.Poll()

	_, ok := s.Take(h1)
	require.False(t, ok, "stale handle from a reused slot must not resolve")

	v, ok := s.Take(h2)
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestFIFOWakeOrder(t *testing.T) {
	s := scheduler.New(0)
	var order []int
	make1 := func(n int) *manualTask {
		return &manualTask{ready: true, result: n}
	}
	var handles []scheduler.Handle
	for i := 0; i < 3; i++ {
		h, _ := s.Insert(make1(i))
		handles = append(handles, h)
	}
	s.Poll()
	for _, h := range handles {
		v, ok := s.Take(h)
		require.True(t, ok)
		order = append(order, v.(int))
	}
	require.Equal(t, []int{0, 1, 2}, order)
}
