package llm

import (
	"context"
	"errors"
	"testing"
)

type staticProvider struct {
	name string
	text string
	err  error
}

func (s *staticProvider) Name() string { return s.name }

func (s *staticProvider) Generate(context.Context, string) (string, error) {
	return s.text, s.err
}

func TestRegistry_PriorityOrder(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, &staticProvider{name: "azure"}, 20)
	mustRegister(t, r, &staticProvider{name: "gemini"}, 10)
	mustRegister(t, r, &staticProvider{name: "fallback"}, 30)

	got := r.Active()
	want := []string{"gemini", "azure", "fallback"}
	for i, p := range got {
		if p.Name() != want[i] {
			t.Errorf("Active()[%d] = %q, want %q", i, p.Name(), want[i])
		}
	}
}

func TestRegistry_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, &staticProvider{name: "first"}, 10)
	mustRegister(t, r, &staticProvider{name: "second"}, 10)

	got := r.Active()
	if got[0].Name() != "first" || got[1].Name() != "second" {
		t.Errorf("Active() = [%s %s], want registration order preserved", got[0].Name(), got[1].Name())
	}
}

func TestRegistry_CredentialsCheckedEagerly(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&staticProvider{name: "gemini"}, 10, false)
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("Register() = %v, want ErrNoCredentials", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after rejected registration, want 0", r.Len())
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, &staticProvider{name: "gemini"}, 10)

	if _, err := r.Get("gemini"); err != nil {
		t.Errorf("Get(gemini) = %v, want nil", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrNoProviders) {
		t.Errorf("Get(missing) = %v, want ErrNoProviders", err)
	}
}

func mustRegister(t *testing.T, r *Registry, p Provider, priority int) {
	t.Helper()
	if err := r.Register(p, priority, true); err != nil {
		t.Fatalf("Register(%s) = %v", p.Name(), err)
	}
}
