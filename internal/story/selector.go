// Package story tracks the story a room is currently estimating and the
// room's backlog. Neither is validated here; the backlog is whatever the
// moderator last pushed.
package story

import "github.com/devaloi/pokersync/internal/domain"

// Selector is the current-story pointer of one room. Not safe for concurrent use.
type Selector struct {
	current *domain.Story
	backlog []domain.Story
}

// New creates a selector with no story.
func New() *Selector {
	return &Selector{}
}

// Select replaces the current story wholesale. A nil story clears it.
func (s *Selector) Select(st *domain.Story) {
	if st == nil {
		s.current = nil
		return
	}
	cp := *st
	s.current = &cp
}

// Current returns a copy of the current story, or nil.
func (s *Selector) Current() *domain.Story {
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// SetBacklog replaces the room's story list.
func (s *Selector) SetBacklog(stories []domain.Story) []domain.Story {
	s.backlog = append([]domain.Story(nil), stories...)
	return s.Backlog()
}

// Backlog returns a copy of the story list. It is never nil.
func (s *Selector) Backlog() []domain.Story {
	out := make([]domain.Story, len(s.backlog))
	copy(out, s.backlog)
	return out
}
