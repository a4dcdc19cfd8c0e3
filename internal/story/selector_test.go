package story

import (
	"testing"

	"github.com/devaloi/pokersync/internal/domain"
)

func TestSelectReplacesWholesale(t *testing.T) {
	t.Parallel()
	s := New()
	if s.Current() != nil {
		t.Fatal("expected no story initially")
	}

	s.Select(&domain.Story{ID: "1", Title: "Login", Description: "OAuth"})
	s.Select(&domain.Story{ID: "2", Title: "Logout"})

	cur := s.Current()
	if cur == nil || cur.ID != "2" || cur.Title != "Logout" {
		t.Fatalf("unexpected story: %+v", cur)
	}
	if cur.Description != "" {
		t.Error("previous description must not leak into the new story")
	}
}

func TestSelectNilClears(t *testing.T) {
	t.Parallel()
	s := New()
	s.Select(&domain.Story{ID: "1"})
	s.Select(nil)
	if s.Current() != nil {
		t.Error("expected story to be cleared")
	}
}

func TestCurrentIsACopy(t *testing.T) {
	t.Parallel()
	s := New()
	in := &domain.Story{ID: "1", Title: "a"}
	s.Select(in)
	in.Title = "changed"
	s.Current().Title = "also changed"

	if s.Current().Title != "a" {
		t.Errorf("selector state leaked: %q", s.Current().Title)
	}
}

func TestBacklog(t *testing.T) {
	t.Parallel()
	s := New()
	if got := s.Backlog(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil backlog, got %v", got)
	}
	got := s.SetBacklog([]domain.Story{{ID: "1"}, {ID: "2"}})
	if len(got) != 2 {
		t.Fatalf("expected 2 stories, got %d", len(got))
	}
	s.SetBacklog(nil)
	if len(s.Backlog()) != 0 {
		t.Error("expected backlog to be replaced")
	}
}
