// Package ai generates and repairs Manim scripts through the configured
// text-generation providers.
package ai

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prithvirajz/Manim-Video-Generator/internal/llm"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
)

// ProviderObserver receives the outcome of individual provider calls.
// Optional on both the Debugger and the Generator.
type ProviderObserver interface {
	RecordProviderRequest(provider, status string, durationSec float64)
}

// callProvider invokes one provider and reports the call to the observer.
func callProvider(ctx context.Context, p llm.Provider, prompt string, obs ProviderObserver) (string, error) {
	start := time.Now()
	raw, err := p.Generate(ctx, prompt)
	if obs != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		obs.RecordProviderRequest(p.Name(), status, time.Since(start).Seconds())
	}
	return raw, err
}

// Debugger asks a provider to repair a failing script. When every provider
// call fails it degrades to BasicCorrection rather than failing: the retry
// loop must always get a candidate script back.
type Debugger struct {
	providers *llm.Registry
	observer  ProviderObserver // may be nil
}

// NewDebugger builds a debugger over the provider registry.
func NewDebugger(providers *llm.Registry) *Debugger {
	return &Debugger{providers: providers}
}

// WithObserver attaches provider call metrics.
func (d *Debugger) WithObserver(obs ProviderObserver) *Debugger {
	d.observer = obs
	return d
}

// DebugResult is the outcome of one debugging pass.
type DebugResult struct {
	FixedScript string
	Changed     bool
	// Source names what produced the fix: a provider name, "heuristic",
	// or "unchanged" when nothing applied.
	Source string
}

// Debug builds the remediation prompt, tries each provider in priority order,
// and returns the cleaned candidate script. An unchanged script is a valid,
// non-error outcome.
func (d *Debugger) Debug(ctx context.Context, scriptText, errorText string) DebugResult {
	prompt := debugPrompt(scriptText, errorText)

	for _, p := range d.providers.Active() {
		raw, err := callProvider(ctx, p, prompt, d.observer)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("AI debug call failed, trying next provider")
			continue
		}

		fixed := script.Clean(raw)
		if fixed == "" {
			log.Warn().Str("provider", p.Name()).Msg("AI debug returned empty script, trying next provider")
			continue
		}

		return DebugResult{
			FixedScript: fixed,
			Changed:     fixed != scriptText,
			Source:      p.Name(),
		}
	}

	log.Warn().Msg("all AI debug providers failed, using basic correction")
	fixed := BasicCorrection(scriptText, errorText)
	source := "heuristic"
	if fixed == scriptText {
		source = "unchanged"
	}
	return DebugResult{
		FixedScript: fixed,
		Changed:     fixed != scriptText,
		Source:      source,
	}
}

// BasicCorrection applies a small table of purely textual fixes for common
// errors. It has no semantic understanding and returns the original script
// unmodified when no heuristic matches.
func BasicCorrection(scriptText, errorText string) string {
	// "'manim' is not recognized" is an environment problem, not a script
	// problem; a retry against a healthy container is the fix.
	if strings.Contains(errorText, "'manim' is not recognized") {
		return scriptText
	}

	if idx := strings.Index(errorText, "No module named"); idx >= 0 {
		rest := errorText[idx+len("No module named"):]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[:nl]
		}
		name := strings.Trim(strings.TrimSpace(rest), `'"`)
		if name != "" && !strings.ContainsAny(name, " \t") {
			return "import " + name + "\n\n" + scriptText
		}
	}

	return scriptText
}
