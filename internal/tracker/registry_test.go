package tracker

import (
	"context"
	"testing"
)

type nopAdapter struct{ name string }

func (a *nopAdapter) Name() string { return a.name }
func (a *nopAdapter) Init(context.Context, *Config) error { return nil }
func (a *nopAdapter) Schema() *Schema { return &Schema{} }
func (a *nopAdapter) Close() error { return nil }
func (a *nopAdapter) FetchUser(context.Context, string) (*RawPerson, error) {
	return nil, ErrNotFound
}
func (a *nopAdapter) FetchIssuePage(context.Context, Cursor, int) (*Page, error) {
	return &Page{}, nil
}
func (a *nopAdapter) FetchHistory(context.Context, RawIssue) ([]RawHistoryEntry, error) {
	return nil, nil
}
func (a *nopAdapter) FetchComments(context.Context, RawIssue) ([]RawComment, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("empty registry", func(t *testing.T) {
		if got := r.List(); len(got) != 0 {
			t.Errorf("List() = %v, want empty", got)
		}
		if got := r.Get("jira"); got != nil {
			t.Error("Get() returned non-nil for unregistered backend")
		}
		if _, err := r.New("jira"); err == nil {
			t.Error("New() should fail for unregistered backend")
		}
	})

	t.Run("register and retrieve", func(t *testing.T) {
		r.Register("mock", func() Adapter { return &nopAdapter{name: "mock"} })
		if got := r.Get("mock"); got == nil {
			t.Error("Get() returned nil for registered backend")
		}
		if !r.IsRegistered("mock") || r.IsRegistered("missing") {
			t.Error("IsRegistered mismatch")
		}
	})

	t.Run("list returns sorted names", func(t *testing.T) {
		r.Register("zebra", func() Adapter { return &nopAdapter{name: "zebra"} })
		r.Register("alpha", func() Adapter { return &nopAdapter{name: "alpha"} })

		got := r.List()
		want := []string{"alpha", "mock", "zebra"}
		if len(got) != len(want) {
			t.Fatalf("List() = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("New returns fresh instances", func(t *testing.T) {
		a1, err := r.New("mock")
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		a2, _ := r.New("mock")
		if a1 == a2 {
			t.Error("New() returned the same instance twice")
		}
		if a1.Name() != "mock" {
			t.Errorf("Name() = %q, want %q", a1.Name(), "mock")
		}
	})

	t.Run("clear", func(t *testing.T) {
		r.Clear()
		if got := r.List(); len(got) != 0 {
			t.Errorf("List() after Clear = %v, want empty", got)
		}
	})
}
