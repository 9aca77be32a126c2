package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

// State is the poll session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ExpiryHook is called from the timer goroutine when a poll's countdown ends.
// It must not block for long; the coordinator uses it to enqueue a command.
type ExpiryHook func(pollID string)

// Option configures a PollSession.
type Option func(*PollSession)

// WithClock overrides the time source used for StartedAt, ClosedAt and the deadline.
func WithClock(now func() time.Time) Option {
	return func(s *PollSession) { s.now = now }
}

// WithTimeUnit sets the duration of one "second" of a poll's time limit.
func WithTimeUnit(unit time.Duration) Option {
	return func(s *PollSession) { s.unit = unit }
}

// WithExpiryHook routes timer expiry to fn instead of closing the poll directly.
func WithExpiryHook(fn ExpiryHook) Option {
	return func(s *PollSession) { s.onExpire = fn }
}

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *PollSession) { s.logger = logger }
}

// PollSession owns the single active poll: its answers, its countdown and the
// history of closed results. All methods are safe for concurrent use; the
// Active -> Idle transition happens under one lock so that exactly one of the
// competing close triggers produces a result.
type PollSession struct {
	mu       sync.Mutex
	state    State
	poll     *types.Poll
	answers  map[string]int
	deadline time.Time
	timer    *time.Timer
	history  []types.PollResult

	students interfaces.StudentCounter
	now      func() time.Time
	unit     time.Duration
	onExpire ExpiryHook
	logger   *zap.Logger
}

// NewPollSession creates an idle session. students is consulted for the
// early-close threshold and for the participant total recorded at close.
func NewPollSession(students interfaces.StudentCounter, opts ...Option) *PollSession {
	s := &PollSession{
		state:    StateIdle,
		students: students,
		now:      time.Now,
		unit:     time.Second,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens poll for answers and arms its countdown. The returned poll
// carries the server-assigned ID and start time.
func (s *PollSession) Start(poll types.Poll) (types.Poll, error) {
	if err := checkPoll(poll); err != nil {
		return types.Poll{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateActive {
		return types.Poll{}, ErrPollAlreadyActive
	}

	p := poll.Clone()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = s.now()
	}

	limit := time.Duration(p.TimeLimitSeconds) * s.unit
	s.poll = &p
	s.answers = make(map[string]int)
	s.state = StateActive
	s.deadline = s.now().Add(limit)

	pollID := p.ID
	s.timer = time.AfterFunc(limit, func() { s.expired(pollID) })

	s.logger.Info("poll started",
		zap.String("poll_id", p.ID),
		zap.Int("options", len(p.Options)),
		zap.Int("time_limit", p.TimeLimitSeconds))
	return p.Clone(), nil
}

// SubmitAnswer records connectionID's choice. When every currently registered
// student has answered the poll closes immediately and the result is returned.
func (s *PollSession) SubmitAnswer(connectionID string, optionIndex int) (*types.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return nil, ErrNoActivePoll
	}
	if _, exists := s.answers[connectionID]; exists {
		return nil, ErrDuplicateAnswer
	}
	if optionIndex < 0 || optionIndex >= len(s.poll.Options) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidOption, optionIndex, len(s.poll.Options))
	}

	s.answers[connectionID] = optionIndex

	// The threshold is the live student count, so late joins and leaves move it.
	if s.students != nil && len(s.answers) == s.students.StudentCount() {
		result := s.closeLocked(types.CloseReasonAllAnswered)
		return &result, nil
	}
	return nil, nil
}

// Close ends the active poll for reason. It reports false, without error,
// when no poll is active.
func (s *PollSession) Close(reason types.CloseReason) (*types.PollResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return nil, false
	}
	result := s.closeLocked(reason)
	return &result, true
}

// Expire closes the poll with reason timeout, but only if pollID is still the
// active poll. Timers that fire after their poll closed are ignored.
func (s *PollSession) Expire(pollID string) (*types.PollResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive || s.poll.ID != pollID {
		return nil, false
	}
	result := s.closeLocked(types.CloseReasonTimeout)
	return &result, true
}

// CurrentPoll returns a copy of the active poll.
func (s *PollSession) CurrentPoll() (types.Poll, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return types.Poll{}, false
	}
	return s.poll.Clone(), true
}

// Remaining returns the time left on the active poll's countdown.
func (s *PollSession) Remaining() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return 0, false
	}
	left := s.deadline.Sub(s.now())
	if left < 0 {
		left = 0
	}
	return left, true
}

// RemainingSeconds rounds Remaining up to whole poll seconds.
func (s *PollSession) RemainingSeconds() (int, bool) {
	left, ok := s.Remaining()
	if !ok {
		return 0, false
	}
	return int((left + s.unit - 1) / s.unit), true
}

// History returns copies of every closed result, oldest first.
func (s *PollSession) History() []types.PollResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.PollResult, len(s.history))
	for i, r := range s.history {
		out[i] = r.Clone()
	}
	return out
}

// AnswerCount returns the number of answers recorded for the active poll.
func (s *PollSession) AnswerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

// State returns the current lifecycle state.
func (s *PollSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop disarms any pending countdown without closing the poll. Used on shutdown.
func (s *PollSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *PollSession) expired(pollID string) {
	if s.onExpire != nil {
		s.onExpire(pollID)
		return
	}
	s.Expire(pollID)
}

// closeLocked performs the Active -> Idle transition. Caller holds s.mu.
func (s *PollSession) closeLocked(reason types.CloseReason) types.PollResult {
	if s.timer != nil {
		s.timer.Stop() // a timer that already fired makes this a no-op
		s.timer = nil
	}

	votes := make([]int, len(s.poll.Options))
	for i := range votes {
		for _, chosen := range s.answers {
			if chosen == i {
				votes[i]++
			}
		}
	}

	total := 0
	if s.students != nil {
		total = s.students.StudentCount()
	}

	answers := make(map[string]int, len(s.answers))
	for id, idx := range s.answers {
		answers[id] = idx
	}

	result := types.PollResult{
		Poll:              s.poll.Clone(),
		Votes:             votes,
		TotalParticipants: total,
		ClosedAt:          s.now(),
		Reason:            reason,
		Answers:           answers,
	}
	s.history = append(s.history, result)

	s.state = StateIdle
	s.poll = nil
	s.answers = nil
	s.deadline = time.Time{}

	s.logger.Info("poll closed",
		zap.String("poll_id", result.Poll.ID),
		zap.String("reason", string(reason)),
		zap.Int("answers", len(answers)),
		zap.Int("students", total))
	return result.Clone()
}

// checkPoll enforces the invariants every poll must satisfy regardless of the
// caller's rules.
func checkPoll(p types.Poll) error {
	if p.Question == "" {
		return fmt.Errorf("%w: empty question", ErrInvalidPoll)
	}
	if len(p.Options) < 2 {
		return fmt.Errorf("%w: need at least 2 options", ErrInvalidPoll)
	}
	for i, opt := range p.Options {
		if opt.Text == "" {
			return fmt.Errorf("%w: option %d is empty", ErrInvalidPoll, i)
		}
	}
	if p.TimeLimitSeconds <= 0 {
		return fmt.Errorf("%w: time limit must be positive", ErrInvalidPoll)
	}
	return nil
}
