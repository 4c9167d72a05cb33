package project

import (
	"errors"
	"log/slog"
	"sync"
)

var ErrNoProjectLoaded = errors.New("no project loaded")

// Session holds the project currently open in the agent, if any.
type Session struct {
	mu      sync.RWMutex
	current *Project
	logger  *slog.Logger
}

func NewSession(logger *slog.Logger) *Session {
	return &Session{logger: logger}
}

// Current returns the open project or ErrNoProjectLoaded.
func (s *Session) Current() (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNoProjectLoaded
	}
	return s.current, nil
}

// Open loads root and makes it the current project. On failure the
// previously open project stays current.
func (s *Session) Open(root string) (*Project, error) {
	p, err := Load(root)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to open project", "error", err)
		}
		return nil, err
	}
	s.set(p)
	return p, nil
}

// Create makes a new project under parent and makes it current.
func (s *Session) Create(parent, name string) (*Project, error) {
	p, err := Create(parent, name)
	if err != nil {
		return nil, err
	}
	s.set(p)
	return p, nil
}

// Close forgets the current project without saving it.
func (s *Session) Close() {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
}

func (s *Session) set(p *Project) {
	s.mu.Lock()
	s.current = p
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Info("project opened", "root", p.Root)
	}
}
