package types

import (
	"time"
)

// Role identifies what a participant is allowed to do in the classroom.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Inbound event names sent by clients over the transport.
const (
	EventTeacherJoin = "teacher:join"
	EventStudentJoin = "student:join"
	EventPollCreate  = "poll:create"
	EventPollAnswer  = "poll:answer"
	EventPollEnd     = "poll:end"
	EventPollHistory = "poll:history"
	EventStudentKick = "student:kick"
	EventChatMessage = "chat:message"
)

// Outbound event names. Some share a name with their inbound counterpart.
const (
	EventPollNew         = "poll:new"
	EventPollResults     = "poll:results"
	EventStudentsList    = "students:list"
	EventStudentJoined   = "student:joined"
	EventStudentLeft     = "student:left"
	EventKicked          = "kicked"
	EventCommandRejected = "command:rejected"
)

// CloseReason records which trigger closed a poll.
type CloseReason string

const (
	CloseReasonTimeout     CloseReason = "timeout"
	CloseReasonAllAnswered CloseReason = "all_answered"
	CloseReasonManualEnd   CloseReason = "manual_end"
)

// Participant is a joined connection. The roster is its only owner.
type Participant struct {
	ConnectionID string    `json:"id"`
	DisplayName  string    `json:"name"`
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// PollOption is one selectable answer. IsCorrect is advisory and never enforced.
type PollOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// Poll is immutable once started.
type Poll struct {
	ID               string       `json:"id"`
	Question         string       `json:"question"`
	Options          []PollOption `json:"options"`
	TimeLimitSeconds int          `json:"timeLimit"`
	StartedAt        time.Time    `json:"startedAt"`
}

// Clone returns a deep copy so callers never share the options slice.
func (p Poll) Clone() Poll {
	out := p
	out.Options = make([]PollOption, len(p.Options))
	copy(out.Options, p.Options)
	return out
}

// ActivePoll is the poll:new payload: the poll plus its countdown, so a
// client that joins mid-poll can render the remaining time.
type ActivePoll struct {
	Poll
	RemainingSeconds int `json:"remainingSeconds"`
}

// PollResult is produced exactly once per closed poll.
type PollResult struct {
	Poll              Poll           `json:"poll"`
	Votes             []int          `json:"votes"`
	TotalParticipants int            `json:"totalStudents"`
	ClosedAt          time.Time      `json:"endedAt"`
	Reason            CloseReason    `json:"reason"`
	Answers           map[string]int `json:"answers"`
}

// TotalVotes sums the per-option counts.
func (r PollResult) TotalVotes() int {
	total := 0
	for _, v := range r.Votes {
		total += v
	}
	return total
}

// Clone returns a deep copy of the result.
func (r PollResult) Clone() PollResult {
	out := r
	out.Poll = r.Poll.Clone()
	out.Votes = make([]int, len(r.Votes))
	copy(out.Votes, r.Votes)
	out.Answers = make(map[string]int, len(r.Answers))
	for k, v := range r.Answers {
		out.Answers[k] = v
	}
	return out
}

// PollRules are the caller-owned limits applied before a poll is started.
type PollRules struct {
	AllowedTimeLimits       []int `json:"allowed_time_limits"`
	DefaultTimeLimitSeconds int   `json:"default_time_limit"`
	MaxQuestionLength       int   `json:"max_question_length"`
	MinOptions              int   `json:"min_options"`
}

// DefaultPollRules mirrors the teacher dashboard: 30/45/60/90/120 second limits,
// 60 second default, 100 character questions and at least two options.
func DefaultPollRules() PollRules {
	return PollRules{
		AllowedTimeLimits:       []int{30, 45, 60, 90, 120},
		DefaultTimeLimitSeconds: 60,
		MaxQuestionLength:       100,
		MinOptions:              2,
	}
}

// ChatMessage is relayed to every connection.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope is the wire format for every transport message.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// AnswerNotice tells teachers about a single response for live tallying.
type AnswerNotice struct {
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	Answer      int    `json:"answer"`
}

// Rejection is sent only to the connection whose command failed.
type Rejection struct {
	Event string `json:"event"`
	Error string `json:"error"`
}
