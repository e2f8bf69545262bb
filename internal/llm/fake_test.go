package llm

import (
	"context"
	"sync"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []Completion
	errs    []error
	prompts []string
}

func (s *scriptedCompleter) Name() string { return "scripted" }

func (s *scriptedCompleter) Complete(_ context.Context, model, prompt string) (Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return Completion{}, s.errs[i]
	}
	if i < len(s.replies) {
		out := s.replies[i]
		out.Model = model
		return out, nil
	}
	return Completion{Model: model}, nil
}

func (s *scriptedCompleter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}
