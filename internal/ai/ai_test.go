package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prithvirajz/Manim-Video-Generator/internal/llm"
)

type scriptedProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) Generate(context.Context, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func registryWith(t *testing.T, providers ...*scriptedProvider) *llm.Registry {
	t.Helper()
	r := llm.NewRegistry()
	for i, p := range providers {
		if err := r.Register(p, (i+1)*10, true); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func TestDebug_StripsFences(t *testing.T) {
	p := &scriptedProvider{name: "gemini", text: "```python\nimport numpy\nclass A(Scene): pass\n```"}
	d := NewDebugger(registryWith(t, p))

	res := d.Debug(context.Background(), "class A(Scene): pass", "No module named 'numpy'")
	if strings.Contains(res.FixedScript, "```") {
		t.Errorf("Debug() left fences in %q", res.FixedScript)
	}
	if !res.Changed {
		t.Error("Debug() Changed = false, want true")
	}
	if res.Source != "gemini" {
		t.Errorf("Debug() Source = %q, want gemini", res.Source)
	}
}

func TestDebug_FallsThroughProviders(t *testing.T) {
	first := &scriptedProvider{name: "gemini", err: errors.New("quota exceeded")}
	second := &scriptedProvider{name: "azure", text: "fixed"}
	d := NewDebugger(registryWith(t, first, second))

	res := d.Debug(context.Background(), "orig", "err")
	if res.FixedScript != "fixed" || res.Source != "azure" {
		t.Errorf("Debug() = %+v, want azure fix", res)
	}
	if first.calls != 1 {
		t.Errorf("first provider calls = %d, want 1", first.calls)
	}
}

func TestDebug_HeuristicFallback(t *testing.T) {
	p := &scriptedProvider{name: "gemini", err: errors.New("network down")}
	d := NewDebugger(registryWith(t, p))

	res := d.Debug(context.Background(), "class A(Scene): pass", "No module named 'numpy'")
	if !strings.HasPrefix(res.FixedScript, "import numpy\n") {
		t.Errorf("Debug() = %q, want heuristic import prepended", res.FixedScript)
	}
	if res.Source != "heuristic" {
		t.Errorf("Source = %q, want heuristic", res.Source)
	}
}

func TestDebug_UnchangedIsValidOutcome(t *testing.T) {
	p := &scriptedProvider{name: "gemini", err: errors.New("down")}
	d := NewDebugger(registryWith(t, p))

	res := d.Debug(context.Background(), "x = 1", "ZeroDivisionError")
	if res.FixedScript != "x = 1" {
		t.Errorf("Debug() = %q, want original script back", res.FixedScript)
	}
	if res.Changed {
		t.Error("Changed = true for an unchanged script")
	}
	if res.Source != "unchanged" {
		t.Errorf("Source = %q, want unchanged", res.Source)
	}
}

type recordingObserver struct {
	providers []string
	statuses  []string
}

func (o *recordingObserver) RecordProviderRequest(provider, status string, durationSec float64) {
	o.providers = append(o.providers, provider)
	o.statuses = append(o.statuses, status)
}

func TestDebug_ObserverSeesEveryProviderCall(t *testing.T) {
	first := &scriptedProvider{name: "gemini", err: errors.New("quota exceeded")}
	second := &scriptedProvider{name: "azure", text: "fixed"}
	obs := &recordingObserver{}
	d := NewDebugger(registryWith(t, first, second)).WithObserver(obs)

	d.Debug(context.Background(), "orig", "err")

	wantProviders := []string{"gemini", "azure"}
	wantStatuses := []string{"error", "ok"}
	if len(obs.providers) != 2 {
		t.Fatalf("observed %d provider calls, want 2", len(obs.providers))
	}
	for i := range wantProviders {
		if obs.providers[i] != wantProviders[i] || obs.statuses[i] != wantStatuses[i] {
			t.Errorf("call[%d] = %s/%s, want %s/%s",
				i, obs.providers[i], obs.statuses[i], wantProviders[i], wantStatuses[i])
		}
	}
}

func TestGenerate_ObserverRecordsOutcome(t *testing.T) {
	p := &scriptedProvider{name: "gemini", text: "class A(Scene): pass"}
	obs := &recordingObserver{}
	g := NewGenerator(registryWith(t, p)).WithObserver(obs)

	if _, err := g.Generate(context.Background(), "x", ""); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(obs.statuses) != 1 || obs.statuses[0] != "ok" {
		t.Errorf("observed statuses = %v, want [ok]", obs.statuses)
	}
}

func TestBasicCorrection(t *testing.T) {
	tests := []struct {
		name      string
		script    string
		errorText string
		want      string
	}{
		{
			name:      "missing module prepends import",
			script:    "print(1)",
			errorText: "No module named 'requests'",
			want:      "import requests\n\nprint(1)",
		},
		{
			name:      "environment issue left alone",
			script:    "print(1)",
			errorText: "'manim' is not recognized as an internal or external command",
			want:      "print(1)",
		},
		{
			name:      "attribute error has no heuristic",
			script:    "print(1)",
			errorText: "AttributeError: 'Circle' object has no attribute 'foo'",
			want:      "print(1)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BasicCorrection(tt.script, tt.errorText); got != tt.want {
				t.Errorf("BasicCorrection() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	p := &scriptedProvider{name: "gemini", text: "```python\nfrom manim import *\n\nclass Pendulum(Scene):\n    pass\n```"}
	g := NewGenerator(registryWith(t, p))

	s, err := g.Generate(context.Background(), "a swinging pendulum", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if s.SceneClass != "Pendulum" {
		t.Errorf("SceneClass = %q, want Pendulum", s.SceneClass)
	}
	if strings.Contains(s.Content, "```") {
		t.Error("generated content still carries fences")
	}
}

func TestGenerate_NamedProviderOnly(t *testing.T) {
	first := &scriptedProvider{name: "gemini", text: "class A(Scene): pass"}
	second := &scriptedProvider{name: "azure", text: "class B(Scene): pass"}
	g := NewGenerator(registryWith(t, first, second))

	s, err := g.Generate(context.Background(), "x", "azure")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if s.SceneClass != "B" {
		t.Errorf("SceneClass = %q, want B (named provider)", s.SceneClass)
	}
	if first.calls != 0 {
		t.Errorf("gemini was called %d times despite azure being named", first.calls)
	}
}

func TestGenerate_AllProvidersFail(t *testing.T) {
	p := &scriptedProvider{name: "gemini", err: errors.New("down")}
	g := NewGenerator(registryWith(t, p))

	if _, err := g.Generate(context.Background(), "x", ""); !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("Generate() = %v, want ErrGenerationFailed", err)
	}
}
