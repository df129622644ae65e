package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/prithvirajz/Manim-Video-Generator/internal/llm"
	"github.com/prithvirajz/Manim-Video-Generator/internal/script"
)

// ErrGenerationFailed reports that no provider produced a usable script.
var ErrGenerationFailed = errors.New("script generation failed")

// Generator produces new Manim scripts from natural-language descriptions.
type Generator struct {
	providers *llm.Registry
	observer  ProviderObserver // may be nil
}

// NewGenerator builds a generator over the provider registry.
func NewGenerator(providers *llm.Registry) *Generator {
	return &Generator{providers: providers}
}

// WithObserver attaches provider call metrics.
func (g *Generator) WithObserver(obs ProviderObserver) *Generator {
	g.observer = obs
	return g
}

// Generate asks for a script matching the description. When providerName is
// empty, providers are tried in priority order; otherwise only the named one
// is used. The returned script is cleaned and carries its extracted scene
// class and pending status.
func (g *Generator) Generate(ctx context.Context, description, providerName string) (script.Script, error) {
	prompt := generationPrompt(description)

	candidates := g.providers.Active()
	if providerName != "" {
		p, err := g.providers.Get(providerName)
		if err != nil {
			return script.Script{}, err
		}
		candidates = []llm.Provider{p}
	}
	if len(candidates) == 0 {
		return script.Script{}, llm.ErrNoProviders
	}

	var lastErr error
	for _, p := range candidates {
		raw, err := callProvider(ctx, p, prompt, g.observer)
		if err != nil {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("script generation failed, trying next provider")
			lastErr = err
			continue
		}

		content := script.Clean(raw)
		if content == "" {
			lastErr = fmt.Errorf("provider %s returned an empty script", p.Name())
			continue
		}

		s, err := script.FromText(content).Resolve()
		if err != nil {
			lastErr = err
			continue
		}
		s.SceneClass = script.ExtractSceneClass(content)

		log.Info().
			Str("provider", p.Name()).
			Str("script_id", s.ID).
			Str("scene_class", s.SceneClass).
			Msg("script generated")
		return s, nil
	}

	return script.Script{}, fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}
