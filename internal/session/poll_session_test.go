package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livepoll/pkg/types"
)

type fakeStudents struct {
	count atomic.Int64
}

func newFakeStudents(n int) *fakeStudents {
	f := &fakeStudents{}
	f.count.Store(int64(n))
	return f
}

func (f *fakeStudents) StudentCount() int { return int(f.count.Load()) }
func (f *fakeStudents) set(n int)         { f.count.Store(int64(n)) }

func colorPoll(limit int) types.Poll {
	return types.Poll{
		Question:         "Color?",
		Options:          []types.PollOption{{Text: "Red"}, {Text: "Blue"}},
		TimeLimitSeconds: limit,
	}
}

func threeWayPoll(limit int) types.Poll {
	return types.Poll{
		Question:         "Pick one",
		Options:          []types.PollOption{{Text: "A"}, {Text: "B"}, {Text: "C"}},
		TimeLimitSeconds: limit,
	}
}

// newTestSession uses milliseconds as the poll "second" and an expiry hook
// so tests decide when a timeout is delivered.
func newTestSession(t *testing.T, students *fakeStudents) (*PollSession, chan string) {
	t.Helper()
	expired := make(chan string, 4)
	s := NewPollSession(students,
		WithTimeUnit(time.Millisecond),
		WithExpiryHook(func(pollID string) { expired <- pollID }),
	)
	t.Cleanup(s.Stop)
	return s, expired
}

func TestPollSession_StartsIdle(t *testing.T) {
	s := NewPollSession(newFakeStudents(0))

	assert.Equal(t, StateIdle, s.State())
	_, ok := s.CurrentPoll()
	assert.False(t, ok)
	assert.Empty(t, s.History())
}

func TestPollSession_StartAssignsIDAndActivates(t *testing.T) {
	s, _ := newTestSession(t, newFakeStudents(2))

	started, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)
	assert.NotEmpty(t, started.ID)
	assert.False(t, started.StartedAt.IsZero())
	assert.Equal(t, StateActive, s.State())

	current, ok := s.CurrentPoll()
	require.True(t, ok)
	assert.Equal(t, started.ID, current.ID)
	assert.Equal(t, "Color?", current.Question)
}

func TestPollSession_StartWhileActiveLeavesOriginalUnchanged(t *testing.T) {
	s, _ := newTestSession(t, newFakeStudents(2))

	first, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)
	_, err = s.SubmitAnswer("a", 0)
	require.NoError(t, err)

	_, err = s.Start(threeWayPoll(30_000))
	assert.ErrorIs(t, err, ErrPollAlreadyActive)

	current, ok := s.CurrentPoll()
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)
	assert.Len(t, current.Options, 2)
	assert.Equal(t, 1, s.AnswerCount())
}

func TestPollSession_StartRejectsStructurallyInvalidPoll(t *testing.T) {
	s := NewPollSession(newFakeStudents(1))

	p := colorPoll(30)
	p.Options = p.Options[:1]
	_, err := s.Start(p)
	assert.ErrorIs(t, err, ErrInvalidPoll)

	p = colorPoll(0)
	_, err = s.Start(p)
	assert.ErrorIs(t, err, ErrInvalidPoll)

	assert.Equal(t, StateIdle, s.State())
}

func TestPollSession_SubmitWithoutActivePoll(t *testing.T) {
	s, _ := newTestSession(t, newFakeStudents(1))

	_, err := s.SubmitAnswer("a", 0)
	assert.ErrorIs(t, err, ErrNoActivePoll)

	_, err = s.Start(colorPoll(30_000))
	require.NoError(t, err)
	_, ok := s.Close(types.CloseReasonManualEnd)
	require.True(t, ok)

	_, err = s.SubmitAnswer("a", 0)
	assert.ErrorIs(t, err, ErrNoActivePoll)

	history := s.History()
	require.Len(t, history, 1)
	assert.Empty(t, history[0].Answers)
}

func TestPollSession_DuplicateAndInvalidAnswers(t *testing.T) {
	s, _ := newTestSession(t, newFakeStudents(5))
	_, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)

	_, err = s.SubmitAnswer("a", 2)
	assert.ErrorIs(t, err, ErrInvalidOption)
	_, err = s.SubmitAnswer("a", -1)
	assert.ErrorIs(t, err, ErrInvalidOption)

	_, err = s.SubmitAnswer("a", 1)
	require.NoError(t, err)
	_, err = s.SubmitAnswer("a", 0)
	assert.ErrorIs(t, err, ErrDuplicateAnswer)

	assert.Equal(t, 1, s.AnswerCount())
}

func TestPollSession_AllAnsweredClosesImmediately(t *testing.T) {
	s, expired := newTestSession(t, newFakeStudents(2))
	_, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)

	result, err := s.SubmitAnswer("student-a", 0)
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = s.SubmitAnswer("student-b", 1)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, types.CloseReasonAllAnswered, result.Reason)
	assert.Equal(t, []int{1, 1}, result.Votes)
	assert.Equal(t, 2, result.TotalParticipants)
	assert.Equal(t, map[string]int{"student-a": 0, "student-b": 1}, result.Answers)
	assert.Equal(t, StateIdle, s.State())

	select {
	case id := <-expired:
		t.Fatalf("timer fired for %s after early close", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPollSession_TimeoutWithPartialAnswers(t *testing.T) {
	s, expired := newTestSession(t, newFakeStudents(3))
	started, err := s.Start(threeWayPoll(30))
	require.NoError(t, err)

	_, err = s.SubmitAnswer("only", 0)
	require.NoError(t, err)

	var pollID string
	select {
	case pollID = <-expired:
	case <-time.After(time.Second):
		t.Fatal("countdown never expired")
	}
	assert.Equal(t, started.ID, pollID)

	result, ok := s.Expire(pollID)
	require.True(t, ok)
	assert.Equal(t, types.CloseReasonTimeout, result.Reason)
	assert.Equal(t, []int{1, 0, 0}, result.Votes)
	assert.Equal(t, 3, result.TotalParticipants)
}

func TestPollSession_TimerClosesDirectlyWithoutHook(t *testing.T) {
	s := NewPollSession(newFakeStudents(4), WithTimeUnit(time.Millisecond))
	_, err := s.Start(colorPoll(20))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.State() == StateIdle }, time.Second, 5*time.Millisecond)
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, types.CloseReasonTimeout, history[0].Reason)
}

func TestPollSession_CloseIsIdempotent(t *testing.T) {
	s, _ := newTestSession(t, newFakeStudents(1))

	_, ok := s.Close(types.CloseReasonManualEnd)
	assert.False(t, ok)

	_, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)

	first, ok := s.Close(types.CloseReasonManualEnd)
	require.True(t, ok)
	assert.Equal(t, types.CloseReasonManualEnd, first.Reason)

	second, ok := s.Close(types.CloseReasonManualEnd)
	assert.False(t, ok)
	assert.Nil(t, second)
	assert.Len(t, s.History(), 1)
}

func TestPollSession_StaleExpiryIsIgnored(t *testing.T) {
	s, _ := newTestSession(t, newFakeStudents(2))

	first, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)
	_, ok := s.Close(types.CloseReasonManualEnd)
	require.True(t, ok)

	second, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)

	_, ok = s.Expire(first.ID)
	assert.False(t, ok)

	current, ok := s.CurrentPoll()
	require.True(t, ok)
	assert.Equal(t, second.ID, current.ID)
}

func TestPollSession_ConcurrentTriggersCloseOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		students := newFakeStudents(3)
		s, _ := newTestSession(t, students)
		started, err := s.Start(threeWayPoll(1))
		require.NoError(t, err)

		var closes atomic.Int64
		var wg sync.WaitGroup
		trigger := func(fn func() bool) {
			defer wg.Done()
			if fn() {
				closes.Add(1)
			}
		}

		wg.Add(6)
		go trigger(func() bool { _, ok := s.Close(types.CloseReasonManualEnd); return ok })
		go trigger(func() bool { _, ok := s.Expire(started.ID); return ok })
		for i, id := range []string{"a", "b", "c"} {
			go trigger(func() bool {
				r, _ := s.SubmitAnswer(id, i)
				return r != nil
			})
		}
		go trigger(func() bool { _, ok := s.Close(types.CloseReasonManualEnd); return ok })
		wg.Wait()

		assert.Equal(t, int64(1), closes.Load(), "round %d", round)
		history := s.History()
		require.Len(t, history, 1)
		assert.Equal(t, len(history[0].Answers), history[0].TotalVotes())
	}
}

func TestPollSession_VotesSumToAcceptedAnswers(t *testing.T) {
	s, _ := newTestSession(t, newFakeStudents(100))

	for poll := 0; poll < 5; poll++ {
		_, err := s.Start(threeWayPoll(30_000))
		require.NoError(t, err)

		accepted := 0
		for i := 0; i < 10+poll; i++ {
			id := string(rune('a' + i))
			if _, err := s.SubmitAnswer(id, (i*7+poll)%4); err == nil {
				accepted++
				_, err = s.SubmitAnswer(id, 0)
				assert.ErrorIs(t, err, ErrDuplicateAnswer)
			}
		}
		result, ok := s.Close(types.CloseReasonManualEnd)
		require.True(t, ok)
		assert.Equal(t, accepted, result.TotalVotes())
	}
	assert.Len(t, s.History(), 5)
}

func TestPollSession_KickBeforeCloseLowersTotal(t *testing.T) {
	students := newFakeStudents(3)
	s, _ := newTestSession(t, students)
	_, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)

	_, err = s.SubmitAnswer("stays", 0)
	require.NoError(t, err)

	// a student without an answer is kicked
	students.set(2)

	result, ok := s.Close(types.CloseReasonManualEnd)
	require.True(t, ok)
	assert.Equal(t, []int{1, 0}, result.Votes)
	assert.Equal(t, 2, result.TotalParticipants)

	// kicking after close never changes the produced result
	students.set(1)
	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].TotalParticipants)
}

func TestPollSession_HistoryIsACopy(t *testing.T) {
	s, _ := newTestSession(t, newFakeStudents(1))
	_, err := s.Start(colorPoll(30_000))
	require.NoError(t, err)
	_, err = s.SubmitAnswer("a", 1)
	require.NoError(t, err)

	history := s.History()
	require.Len(t, history, 1)
	history[0].Votes[1] = 42
	history[0].Answers["intruder"] = 0
	history[0].Poll.Options[0].Text = "changed"

	again := s.History()
	assert.Equal(t, []int{0, 1}, again[0].Votes)
	assert.Len(t, again[0].Answers, 1)
	assert.Equal(t, "Red", again[0].Poll.Options[0].Text)
}

func TestPollSession_RemainingSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	s := NewPollSession(newFakeStudents(1),
		WithClock(clock),
		WithExpiryHook(func(string) {}),
	)
	t.Cleanup(s.Stop)

	_, ok := s.RemainingSeconds()
	assert.False(t, ok)

	_, err := s.Start(colorPoll(60))
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(15500 * time.Millisecond)
	mu.Unlock()

	left, ok := s.RemainingSeconds()
	require.True(t, ok)
	assert.Equal(t, 45, left)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "state(7)", State(7).String())
}
