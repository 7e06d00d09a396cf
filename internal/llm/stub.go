package llm

import (
	"context"
	"fmt"
)

// StubGenerator is a scripted Generator for tests and offline development.
// Results are returned in order; Err, when set, is returned for every call
// after the scripted results run out (or immediately if none are scripted).
type StubGenerator struct {
	Results []string
	Err     error

	Calls []Request
}

// Generate returns the next scripted result.
func (s *StubGenerator) Generate(_ context.Context, req Request) (*Result, error) {
	s.Calls = append(s.Calls, req)
	if len(s.Results) > 0 {
		text := s.Results[0]
		s.Results = s.Results[1:]
		return &Result{Text: text}, nil
	}
	if s.Err != nil {
		return nil, s.Err
	}
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return &Result{Text: fmt.Sprintf("Te escucho. Dijiste %q.", last)}, nil
}

var _ Generator = (*StubGenerator)(nil)
