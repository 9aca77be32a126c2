package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"livepoll/internal/broadcast"
	"livepoll/internal/roster"
	"livepoll/internal/session"
	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

const (
	defaultCommandBuffer  = 1000
	defaultArchiveBuffer  = 100
	defaultArchiveTimeout = 5 * time.Second
	defaultChatPerMinute  = 30
	rateLimitCleanupEvery = time.Minute
)

// Coordinator is the single point through which every classroom mutation
// flows. Commands are queued by Submit and applied one at a time by the run
// loop, which then fans out the resulting events.
type Coordinator struct {
	commands chan Command
	archive  chan types.PollResult
	shutdown chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	roster      *roster.Registry
	session     *session.PollSession
	broadcaster *broadcast.Broadcaster
	limiter     *RateLimiter
	sinks       []interfaces.ResultSink

	rules          types.PollRules
	timeUnit       time.Duration
	archiveTimeout time.Duration
	commandBuffer  int
	chatPerMinute  int
	logger         *zap.Logger

	running bool
	started bool
	mu      sync.RWMutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRules sets the poll rules applied to CreatePoll.
func WithRules(rules types.PollRules) Option {
	return func(c *Coordinator) { c.rules = rules }
}

// WithResultSinks adds sinks that receive every closed result.
func WithResultSinks(sinks ...interfaces.ResultSink) Option {
	return func(c *Coordinator) { c.sinks = append(c.sinks, sinks...) }
}

// WithChatRateLimit sets the chat messages allowed per connection per minute.
func WithChatRateLimit(perMinute int) Option {
	return func(c *Coordinator) { c.chatPerMinute = perMinute }
}

// WithTimeUnit sets the duration of one poll second. Tests use milliseconds.
func WithTimeUnit(unit time.Duration) Option {
	return func(c *Coordinator) { c.timeUnit = unit }
}

// WithArchiveTimeout bounds each ResultSink call.
func WithArchiveTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.archiveTimeout = d }
}

// WithCommandBuffer sets the command queue capacity.
func WithCommandBuffer(n int) Option {
	return func(c *Coordinator) { c.commandBuffer = n }
}

// WithLogger sets the logger for the coordinator and the components it owns.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a coordinator delivering events through transport.
func New(transport interfaces.Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		rules:          types.DefaultPollRules(),
		timeUnit:       time.Second,
		archiveTimeout: defaultArchiveTimeout,
		commandBuffer:  defaultCommandBuffer,
		chatPerMinute:  defaultChatPerMinute,
		logger:         zap.NewNop(),
		shutdown:       make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.commands = make(chan Command, c.commandBuffer)
	c.archive = make(chan types.PollResult, defaultArchiveBuffer)
	c.limiter = NewRateLimiter(c.chatPerMinute)
	c.roster = roster.NewRegistry(transport, roster.WithLogger(c.logger.Named("roster")))
	c.session = session.NewPollSession(c.roster,
		session.WithTimeUnit(c.timeUnit),
		session.WithExpiryHook(c.onPollExpired),
		session.WithLogger(c.logger.Named("session")))
	c.broadcaster = broadcast.New(transport, c.roster, broadcast.WithLogger(c.logger.Named("broadcast")))
	return c
}

// Start launches the command loop and the archiver. A coordinator runs at
// most once; after Stop, create a new one.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running || c.started {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.started = true
	c.mu.Unlock()

	c.logger.Info("starting session coordinator",
		zap.Int("command_buffer", cap(c.commands)),
		zap.Int("result_sinks", len(c.sinks)))

	c.wg.Add(2)
	go c.run(ctx)
	go c.runArchiver()
	return nil
}

// Stop ends the command loop, flushes pending archive writes and waits for
// both goroutines to exit.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.running = false
	close(c.shutdown)
	c.mu.Unlock()

	c.logger.Info("stopping session coordinator")
	c.wg.Wait()
	return nil
}

// Submit queues cmd without blocking.
func (c *Coordinator) Submit(cmd Command) error {
	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case <-c.done:
		return ErrNotRunning
	default:
	}

	select {
	case c.commands <- cmd:
		return nil
	default:
		return ErrCommandChannelFull
	}
}

// onPollExpired runs on the timer goroutine. It only enqueues; the loop
// decides whether the poll is still the active one.
func (c *Coordinator) onPollExpired(pollID string) {
	select {
	case c.commands <- pollExpired{pollID: pollID}:
	case <-c.done:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.done)
	defer c.session.Stop()

	cleanup := time.NewTicker(rateLimitCleanupEvery)
	defer cleanup.Stop()

	for {
		select {
		case cmd := <-c.commands:
			c.handle(cmd)
		case <-cleanup.C:
			c.limiter.Cleanup()
		case <-c.shutdown:
			c.logger.Info("coordinator shutdown requested")
			return
		case <-ctx.Done():
			c.logger.Info("coordinator context cancelled")
			return
		}
	}
}

func (c *Coordinator) handle(cmd Command) {
	switch cmd := cmd.(type) {
	case CreatePoll:
		c.handleCreatePoll(cmd)
	case SubmitAnswer:
		c.handleSubmitAnswer(cmd)
	case EndPoll:
		c.handleEndPoll(cmd)
	case pollExpired:
		c.handlePollExpired(cmd)
	case Join:
		c.handleJoin(cmd)
	case Leave:
		c.handleLeave(cmd)
	case Kick:
		c.handleKick(cmd)
	case Chat:
		c.handleChat(cmd)
	case RequestHistory:
		c.broadcaster.ToOne(cmd.ConnectionID, types.EventPollHistory, c.session.History())
	default:
		c.logger.Error("unhandled command", zap.String("type", commandName(cmd)))
	}
}

func (c *Coordinator) handleCreatePoll(cmd CreatePoll) {
	if !c.requireRole(cmd.ConnectionID, types.RoleTeacher, types.EventPollCreate) {
		return
	}

	poll := types.Poll{
		Question:         cmd.Question,
		Options:          cmd.Options,
		TimeLimitSeconds: cmd.TimeLimitSeconds,
	}
	if err := poll.Validate(c.rules); err != nil {
		c.reject(cmd.ConnectionID, types.EventPollCreate, err)
		return
	}

	started, err := c.session.Start(poll)
	switch {
	case errors.Is(err, session.ErrPollAlreadyActive):
		c.logger.Debug("poll create ignored, poll already active",
			zap.String("connection_id", cmd.ConnectionID))
		return
	case err != nil:
		c.reject(cmd.ConnectionID, types.EventPollCreate, err)
		return
	}

	// unjoined connections get the poll as catch-up when they join
	active := types.ActivePoll{Poll: started, RemainingSeconds: started.TimeLimitSeconds}
	c.broadcaster.ToRole(types.RoleStudent, types.EventPollNew, active)
	c.broadcaster.ToRole(types.RoleTeacher, types.EventPollNew, active)
}

func (c *Coordinator) handleSubmitAnswer(cmd SubmitAnswer) {
	if !c.requireRole(cmd.ConnectionID, types.RoleStudent, types.EventPollAnswer) {
		return
	}

	result, err := c.session.SubmitAnswer(cmd.ConnectionID, cmd.OptionIndex)
	switch {
	case errors.Is(err, session.ErrDuplicateAnswer), errors.Is(err, session.ErrNoActivePoll):
		c.logger.Debug("answer ignored",
			zap.String("connection_id", cmd.ConnectionID),
			zap.Error(err))
		return
	case err != nil:
		c.reject(cmd.ConnectionID, types.EventPollAnswer, err)
		return
	}

	student, _ := c.roster.Get(cmd.ConnectionID)
	c.broadcaster.ToRole(types.RoleTeacher, types.EventPollAnswer, types.AnswerNotice{
		StudentID:   cmd.ConnectionID,
		StudentName: student.DisplayName,
		Answer:      cmd.OptionIndex,
	})

	if result != nil {
		c.publishResult(result)
	}
}

func (c *Coordinator) handleEndPoll(cmd EndPoll) {
	if !c.requireRole(cmd.ConnectionID, types.RoleTeacher, types.EventPollEnd) {
		return
	}
	if result, ok := c.session.Close(types.CloseReasonManualEnd); ok {
		c.publishResult(result)
	}
}

func (c *Coordinator) handlePollExpired(cmd pollExpired) {
	if result, ok := c.session.Expire(cmd.pollID); ok {
		c.publishResult(result)
	}
}

func (c *Coordinator) handleJoin(cmd Join) {
	event := types.EventStudentJoin
	if cmd.Role == types.RoleTeacher {
		event = types.EventTeacherJoin
	}

	previous, hadPrevious := c.roster.Get(cmd.ConnectionID)
	p, _, err := c.roster.Join(cmd.ConnectionID, cmd.DisplayName, cmd.Role)
	if err != nil {
		c.reject(cmd.ConnectionID, event, err)
		return
	}

	switch p.Role {
	case types.RoleStudent:
		c.broadcaster.ToRole(types.RoleTeacher, types.EventStudentJoined, p)
	case types.RoleTeacher:
		if hadPrevious && previous.Role == types.RoleStudent {
			c.broadcaster.ToRole(types.RoleTeacher, types.EventStudentLeft, previous)
		}
		c.broadcaster.ToOne(p.ConnectionID, types.EventStudentsList, c.roster.Roster())
		c.broadcaster.ToOne(p.ConnectionID, types.EventPollHistory, c.session.History())
	}

	if active, ok := c.CurrentPoll(); ok {
		c.broadcaster.ToOne(p.ConnectionID, types.EventPollNew, active)
	}
}

func (c *Coordinator) handleLeave(cmd Leave) {
	c.limiter.Forget(cmd.ConnectionID)

	p, ok := c.roster.Leave(cmd.ConnectionID)
	if !ok {
		return
	}
	if p.Role == types.RoleStudent {
		c.broadcaster.ToRole(types.RoleTeacher, types.EventStudentLeft, p)
	}
}

func (c *Coordinator) handleKick(cmd Kick) {
	if !c.requireRole(cmd.ConnectionID, types.RoleTeacher, types.EventStudentKick) {
		return
	}

	target, ok := c.roster.Get(cmd.TargetID)
	if !ok {
		c.reject(cmd.ConnectionID, types.EventStudentKick, roster.ErrUnknownParticipant)
		return
	}
	if target.Role != types.RoleStudent {
		c.reject(cmd.ConnectionID, types.EventStudentKick, ErrNotPermitted)
		return
	}

	// kicked must be queued before the transport closes the connection
	c.broadcaster.ToOne(cmd.TargetID, types.EventKicked, nil)

	p, err := c.roster.Kick(cmd.TargetID)
	if err != nil {
		c.reject(cmd.ConnectionID, types.EventStudentKick, err)
		return
	}
	c.limiter.Forget(cmd.TargetID)
	c.broadcaster.ToRole(types.RoleTeacher, types.EventStudentLeft, p)
}

func (c *Coordinator) handleChat(cmd Chat) {
	text, err := types.ValidateChatText(cmd.Text)
	if err != nil {
		c.reject(cmd.ConnectionID, types.EventChatMessage, err)
		return
	}
	if !c.limiter.Allow(cmd.ConnectionID) {
		c.reject(cmd.ConnectionID, types.EventChatMessage, ErrRateLimited)
		return
	}

	var sender *types.Participant
	if p, ok := c.roster.Get(cmd.ConnectionID); ok {
		sender = &p
	}
	c.broadcaster.Chat(sender, text)
}

func (c *Coordinator) requireRole(connectionID string, role types.Role, event string) bool {
	p, ok := c.roster.Get(connectionID)
	if ok && p.Role == role {
		return true
	}
	c.reject(connectionID, event, ErrNotPermitted)
	return false
}

func (c *Coordinator) reject(connectionID, event string, err error) {
	c.logger.Debug("command rejected",
		zap.String("connection_id", connectionID),
		zap.String("event", event),
		zap.Error(err))
	c.broadcaster.ToOne(connectionID, types.EventCommandRejected, types.Rejection{
		Event: event,
		Error: err.Error(),
	})
}

func (c *Coordinator) publishResult(result *types.PollResult) {
	c.broadcaster.ToAll(types.EventPollResults, *result)

	if len(c.sinks) == 0 {
		return
	}
	select {
	case c.archive <- result.Clone():
	default:
		c.logger.Warn("archive queue full, result not archived",
			zap.String("poll_id", result.Poll.ID))
	}
}

func (c *Coordinator) runArchiver() {
	defer c.wg.Done()

	for {
		select {
		case result := <-c.archive:
			c.store(result)
		case <-c.done:
			for {
				select {
				case result := <-c.archive:
					c.store(result)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) store(result types.PollResult) {
	for _, sink := range c.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), c.archiveTimeout)
		err := sink.StoreResult(ctx, &result)
		cancel()
		if err != nil {
			c.logger.Error("failed to archive poll result",
				zap.String("poll_id", result.Poll.ID),
				zap.Error(err))
		}
	}
}

// CurrentPoll returns the active poll with its remaining time.
func (c *Coordinator) CurrentPoll() (types.ActivePoll, bool) {
	poll, ok := c.session.CurrentPoll()
	if !ok {
		return types.ActivePoll{}, false
	}
	remaining, _ := c.session.RemainingSeconds()
	return types.ActivePoll{Poll: poll, RemainingSeconds: remaining}, true
}

// History returns the closed results of this process, oldest first.
func (c *Coordinator) History() []types.PollResult {
	return c.session.History()
}

// Roster returns the joined students.
func (c *Coordinator) Roster() []types.Participant {
	return c.roster.Roster()
}

// GetStats returns counters for the health endpoint.
func (c *Coordinator) GetStats() map[string]int {
	stats := c.roster.GetStats()
	stats["queued_commands"] = len(c.commands)
	stats["answers"] = c.session.AnswerCount()
	stats["closed_polls"] = len(c.session.History())
	if c.session.State() == session.StateActive {
		stats["active_poll"] = 1
	} else {
		stats["active_poll"] = 0
	}
	return stats
}

func commandName(cmd Command) string {
	if cmd == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", cmd)
}
