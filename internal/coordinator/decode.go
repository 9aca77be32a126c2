package coordinator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"livepoll/pkg/types"
)

// DecodeCommand turns an inbound envelope from connectionID into a Command.
// Payload shapes follow the browser client: kick and chat accept either a
// bare string or an object.
func DecodeCommand(connectionID, event string, data json.RawMessage) (Command, error) {
	switch event {
	case types.EventTeacherJoin:
		name, err := stringOrField(data, "name")
		if err != nil {
			return nil, err
		}
		return Join{ConnectionID: connectionID, DisplayName: name, Role: types.RoleTeacher}, nil

	case types.EventStudentJoin:
		name, err := stringOrField(data, "name")
		if err != nil {
			return nil, err
		}
		return Join{ConnectionID: connectionID, DisplayName: name, Role: types.RoleStudent}, nil

	case types.EventPollCreate:
		var payload struct {
			Question  string         `json:"question"`
			Options   []pollOptionIn `json:"options"`
			TimeLimit int            `json:"timeLimit"`
		}
		if err := unmarshalObject(data, &payload); err != nil {
			return nil, err
		}
		options := make([]types.PollOption, len(payload.Options))
		for i, opt := range payload.Options {
			options[i] = types.PollOption(opt)
		}
		return CreatePoll{
			ConnectionID:     connectionID,
			Question:         payload.Question,
			Options:          options,
			TimeLimitSeconds: payload.TimeLimit,
		}, nil

	case types.EventPollAnswer:
		var payload struct {
			OptionIndex *int `json:"optionIndex"`
		}
		if err := unmarshalObject(data, &payload); err != nil {
			return nil, err
		}
		if payload.OptionIndex == nil {
			return nil, fmt.Errorf("%w: optionIndex is required", ErrMalformedPayload)
		}
		return SubmitAnswer{ConnectionID: connectionID, OptionIndex: *payload.OptionIndex}, nil

	case types.EventPollEnd:
		return EndPoll{ConnectionID: connectionID}, nil

	case types.EventPollHistory:
		return RequestHistory{ConnectionID: connectionID}, nil

	case types.EventStudentKick:
		target, err := stringOrField(data, "studentId", "id")
		if err != nil {
			return nil, err
		}
		if target == "" {
			return nil, fmt.Errorf("%w: studentId is required", ErrMalformedPayload)
		}
		return Kick{ConnectionID: connectionID, TargetID: target}, nil

	case types.EventChatMessage:
		text, err := stringOrField(data, "text")
		if err != nil {
			return nil, err
		}
		return Chat{ConnectionID: connectionID, Text: text}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

// pollOptionIn accepts an option either as {"text","isCorrect"} or as a bare string.
type pollOptionIn types.PollOption

func (o *pollOptionIn) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*o = pollOptionIn{Text: text}
		return nil
	}
	var opt types.PollOption
	if err := json.Unmarshal(data, &opt); err != nil {
		return err
	}
	*o = pollOptionIn(opt)
	return nil
}

func isEmpty(data json.RawMessage) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

func unmarshalObject(data json.RawMessage, v interface{}) error {
	if isEmpty(data) {
		return fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// stringOrField reads data as a JSON string, or as an object holding the
// first present of fields. Missing data yields "".
func stringOrField(data json.RawMessage, fields ...string) (string, error) {
	if isEmpty(data) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	for _, field := range fields {
		raw, ok := obj[field]
		if !ok || isEmpty(raw) {
			continue
		}
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %s must be a string", ErrMalformedPayload, field)
		}
		return s, nil
	}
	return "", nil
}
