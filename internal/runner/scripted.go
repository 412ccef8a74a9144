package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response is a canned result for Scripted
type Response struct {
	Stdout []byte
	Err    error
}

// Scripted is an in-memory Runner keyed on the full command line. It records
// every call so tests can assert which tools ran and in what order.
type Scripted struct {
	mu        sync.Mutex
	responses map[string]Response
	prefixes  map[string]Response
	missing   map[string]bool
	calls     []Command
}

// NewScripted returns an empty Scripted runner
func NewScripted() *Scripted {
	return &Scripted{
		responses: make(map[string]Response),
		prefixes:  make(map[string]Response),
		missing:   make(map[string]bool),
	}
}

// On registers stdout for an exact command line
func (s *Scripted) On(cmdline string, stdout string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[cmdline] = Response{Stdout: []byte(stdout)}
	return s
}

// OnBytes registers raw stdout for an exact command line
func (s *Scripted) OnBytes(cmdline string, stdout []byte) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[cmdline] = Response{Stdout: stdout}
	return s
}

// OnPrefix registers a response for any command line starting with prefix
func (s *Scripted) OnPrefix(prefix string, stdout []byte) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes[prefix] = Response{Stdout: stdout}
	return s
}

// Fail registers an error for an exact command line
func (s *Scripted) Fail(cmdline string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[cmdline] = Response{Err: err}
	return s
}

// Missing marks a tool as not installed
func (s *Scripted) Missing(name string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing[name] = true
	return s
}

// LookPath reports false only for tools marked Missing
func (s *Scripted) LookPath(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.missing[name]
}

// Run returns the registered response or an error for unknown commands
func (s *Scripted) Run(ctx context.Context, c Command) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, c)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.missing[c.Name] {
		return nil, fmt.Errorf("%s: %w", c.Name, ErrToolNotFound)
	}

	line := c.String()
	if resp, ok := s.responses[line]; ok {
		return resp.Stdout, resp.Err
	}

	best := ""
	for prefix := range s.prefixes {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return s.prefixes[best].Stdout, s.prefixes[best].Err
	}

	return nil, &ExitError{Command: c.Name, ExitCode: 127, Err: fmt.Errorf("unscripted command %q", line)}
}

// Calls returns a copy of the recorded commands
func (s *Scripted) Calls() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallLines returns the recorded command lines
func (s *Scripted) CallLines() []string {
	calls := s.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.String()
	}
	return lines
}

// Ran reports whether any recorded command line starts with prefix
func (s *Scripted) Ran(prefix string) bool {
	for _, line := range s.CallLines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Reset clears recorded calls
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
