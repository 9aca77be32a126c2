package types

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	maxDisplayNameLength = 50
	maxChatLength        = 500
)

// Validate checks the poll against the caller's rules. A zero time limit is
// replaced with the rules' default before checking.
func (p *Poll) Validate(rules PollRules) error {
	p.Question = strings.TrimSpace(p.Question)
	if p.Question == "" {
		return ErrQuestionRequired
	}
	if rules.MaxQuestionLength > 0 && utf8.RuneCountInString(p.Question) > rules.MaxQuestionLength {
		return fmt.Errorf("%w: %d characters", ErrQuestionTooLong, rules.MaxQuestionLength)
	}

	if len(p.Options) < rules.MinOptions || len(p.Options) < 2 {
		return fmt.Errorf("%w: at least %d required", ErrTooFewOptions, max(rules.MinOptions, 2))
	}
	for i := range p.Options {
		p.Options[i].Text = strings.TrimSpace(p.Options[i].Text)
		if p.Options[i].Text == "" {
			return fmt.Errorf("%w: option %d", ErrEmptyOption, i)
		}
	}

	if p.TimeLimitSeconds == 0 {
		p.TimeLimitSeconds = rules.DefaultTimeLimitSeconds
	}
	if !rules.AllowsTimeLimit(p.TimeLimitSeconds) {
		return fmt.Errorf("%w: %d", ErrInvalidTimeLimit, p.TimeLimitSeconds)
	}
	return nil
}

// AllowsTimeLimit reports whether seconds is permitted. An empty allowed set
// accepts any positive value.
func (r PollRules) AllowsTimeLimit(seconds int) bool {
	if seconds <= 0 {
		return false
	}
	if len(r.AllowedTimeLimits) == 0 {
		return true
	}
	for _, allowed := range r.AllowedTimeLimits {
		if allowed == seconds {
			return true
		}
	}
	return false
}

// IsValidRole checks that role is one of the two classroom roles.
func IsValidRole(role Role) bool {
	return role == RoleTeacher || role == RoleStudent
}

// NormalizeDisplayName trims the name and applies the role's fallback.
func NormalizeDisplayName(name string, role Role) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxDisplayNameLength {
		return "", ErrInvalidDisplayName
	}
	if name == "" {
		if role == RoleStudent {
			return "Student", nil
		}
		return "Teacher", nil
	}
	return name, nil
}

// ValidateChatText trims text and enforces the chat length limit.
func ValidateChatText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxChatLength {
		return "", ErrInvalidChatMessage
	}
	return text, nil
}
