package prompt

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is a Prompter that replays pre-recorded answers. It is used in
// tests of interactive phases.
//
// Answers are consumed in order. Each answer is an int (Select), a bool
// (Confirm), a string (Input, Secret, Multiline, or an option label for
// Select) or an error (returned as-is, e.g. ErrBack).
type Scripted struct {
	mu      sync.Mutex
	answers []any
	asked   []string
}

// NewScripted creates a Scripted prompter.
func NewScripted(answers ...any) *Scripted {
	return &Scripted{answers: answers}
}

// Push appends more answers.
func (s *Scripted) Push(answers ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, answers...)
}

// Asked returns the questions asked so far.
func (s *Scripted) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.asked...)
}

// Remaining returns the number of unconsumed answers.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

func (s *Scripted) next(question string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, question)
	if len(s.answers) == 0 {
		return nil, fmt.Errorf("%w: no scripted answer for %q", ErrInterrupted, question)
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	if err, ok := a.(error); ok {
		return nil, err
	}
	return a, nil
}

// Select implements Prompter.
func (s *Scripted) Select(_ context.Context, question string, options []string) (int, error) {
	a, err := s.next(question)
	if err != nil {
		return 0, err
	}
	switch v := a.(type) {
	case int:
		if v < 0 || v >= len(options) {
			return 0, fmt.Errorf("scripted select %q: index %d out of range", question, v)
		}
		return v, nil
	case string:
		for i, opt := range options {
			if opt == v {
				return i, nil
			}
		}
		return 0, fmt.Errorf("scripted select %q: no option %q in %v", question, v, options)
	}
	return 0, fmt.Errorf("scripted select %q: unexpected answer %T", question, a)
}

// Confirm implements Prompter.
func (s *Scripted) Confirm(_ context.Context, question string, _ bool) (bool, error) {
	a, err := s.next(question)
	if err != nil {
		return false, err
	}
	v, ok := a.(bool)
	if !ok {
		return false, fmt.Errorf("scripted confirm %q: unexpected answer %T", question, a)
	}
	return v, nil
}

func (s *Scripted) text(question string) (string, error) {
	a, err := s.next(question)
	if err != nil {
		return "", err
	}
	v, ok := a.(string)
	if !ok {
		return "", fmt.Errorf("scripted input %q: unexpected answer %T", question, a)
	}
	return v, nil
}

// Input implements Prompter.
func (s *Scripted) Input(_ context.Context, question, def string) (string, error) {
	v, err := s.text(question)
	if err == nil && v == "" {
		return def, nil
	}
	return v, err
}

// Secret implements Prompter.
func (s *Scripted) Secret(_ context.Context, question string) (string, error) {
	return s.text(question)
}

// Multiline implements Prompter.
func (s *Scripted) Multiline(_ context.Context, question string) (string, error) {
	return s.text(question)
}
