// Package deps detects missing Python modules in render error output and
// installs them into the render container.
//
// Module names extracted here end up as arguments to pip inside the container,
// so IsSafeModuleName is a security boundary: validation fails closed and an
// invalid name never reaches the runtime adapter.
package deps

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/prithvirajz/Manim-Video-Generator/internal/docker"
)

// ErrInstallFailed reports a pip install that ran but did not succeed.
var ErrInstallFailed = errors.New("dependency install failed")

// ErrUnsafeModuleName reports a module name rejected by the safety policy.
var ErrUnsafeModuleName = errors.New("unsafe module name")

// runner is the slice of the docker client the resolver needs.
type runner interface {
	Run(ctx context.Context, command, workDir string) docker.CommandResult
}

// Resolver extracts missing-module names from error text and installs them.
type Resolver struct {
	runtime runner
}

// NewResolver builds a resolver that installs through the given container client.
func NewResolver(runtime runner) *Resolver {
	return &Resolver{runtime: runtime}
}

// Report summarizes one detect-and-install pass.
type Report struct {
	Installed []string
	Failed    []string
}

// AnyInstalled reports whether at least one module was installed. Partial
// success is success at this layer; the retry loop decides what it warrants.
func (r Report) AnyInstalled() bool { return len(r.Installed) > 0 }

var (
	// "No module named 'numpy'" / `No module named "numpy"` / No module named numpy
	noModuleRe = regexp.MustCompile(`No module named ['"]?([A-Za-z0-9_.\-]+)['"]?`)
	// "ImportError: cannot import name 'X' from 'package'"
	importFromRe = regexp.MustCompile(`ImportError:.*\bfrom ['"]([A-Za-z0-9_.\-]+)['"]`)

	validNameRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
)

// denylist contains names that would be dangerous or nonsensical to install:
// they shadow core runtime facilities and only ever show up in error text
// because a traceback mentioned them.
var denylist = map[string]bool{
	"os":         true,
	"sys":        true,
	"subprocess": true,
	"shutil":     true,
	"pathlib":    true,
	"logging":    true,
}

// ExtractMissingModules scans error text for missing-module signatures and
// returns the deduplicated top-level package names, in order of first
// appearance. It never fails: no match means an empty result.
func ExtractMissingModules(errorText string) []string {
	if errorText == "" {
		return nil
	}

	var raw []string
	for _, m := range noModuleRe.FindAllStringSubmatch(errorText, -1) {
		raw = append(raw, m[1])
	}
	for _, line := range strings.Split(errorText, "\n") {
		if !strings.Contains(line, "ImportError:") {
			continue
		}
		if m := importFromRe.FindStringSubmatch(line); m != nil {
			raw = append(raw, m[1])
		}
	}

	var modules []string
	seen := make(map[string]bool)
	for _, name := range raw {
		// Top-level package only: "scipy.stats" installs as "scipy".
		base := strings.TrimSpace(strings.SplitN(name, ".", 2)[0])
		if base == "" || seen[base] || !IsSafeModuleName(base) {
			continue
		}
		seen[base] = true
		modules = append(modules, base)
	}
	return modules
}

// IsSafeModuleName reports whether a module name may be passed to pip.
// Accepts only [A-Za-z0-9_.-]+, rejects shell metacharacters and the denylist
// (case-insensitively). Any bypass here is a command-injection vector.
func IsSafeModuleName(name string) bool {
	if name == "" || !validNameRe.MatchString(name) {
		return false
	}
	if strings.ContainsAny(name, ";&|$()`\\/") {
		return false
	}
	return !denylist[strings.ToLower(name)]
}

// InstallDependency installs one module into the container. The name is
// validated first; an invalid name never reaches the runtime adapter.
func (r *Resolver) InstallDependency(ctx context.Context, name string) error {
	if !IsSafeModuleName(name) {
		return fmt.Errorf("%w: %q", ErrUnsafeModuleName, name)
	}

	log.Info().Str("module", name).Msg("installing missing dependency")
	result := r.runtime.Run(ctx, "pip install "+name, "")
	if !result.Succeeded {
		return fmt.Errorf("%w: %s: %s", ErrInstallFailed, name, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// DetectAndInstall extracts missing modules from error text and installs each
// one, continuing through individual failures.
func (r *Resolver) DetectAndInstall(ctx context.Context, errorText string) Report {
	modules := ExtractMissingModules(errorText)
	if len(modules) == 0 {
		log.Debug().Msg("no missing dependencies detected in error text")
		return Report{}
	}

	var report Report
	for _, name := range modules {
		if err := r.InstallDependency(ctx, name); err != nil {
			log.Warn().Err(err).Str("module", name).Msg("dependency install failed")
			report.Failed = append(report.Failed, name)
			continue
		}
		report.Installed = append(report.Installed, name)
	}

	log.Info().
		Strs("installed", report.Installed).
		Strs("failed", report.Failed).
		Msg("dependency remediation finished")
	return report
}
