package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// ScriptInspector analyzes AI-generated scripts before they are staged into
// the render container. Generated code is untrusted: a hallucinated or
// prompt-injected script must not reach the container with filesystem or
// network side effects the renderer never needs.
type ScriptInspector struct {
	patterns []InspectionPattern
}

// InspectionPattern defines a suspicious construct to match.
type InspectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected constructs.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Finding represents one matched suspicious construct.
type Finding struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewScriptInspector creates an inspector with default patterns.
func NewScriptInspector() *ScriptInspector {
	return &ScriptInspector{
		patterns: defaultPatterns(),
	}
}

// AnalyzeScript checks script content for suspicious constructs before it is
// copied into the container.
func (d *ScriptInspector) AnalyzeScript(content string) []Finding {
	var findings []Finding

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if p.Regex.MatchString(line) {
				f := Finding{
					Pattern:  p.Name,
					Severity: p.Severity.String(),
					Detail:   p.Description,
					Line:     i + 1,
				}
				findings = append(findings, f)

				log.Warn().
					Str("pattern", p.Name).
					Str("severity", p.Severity.String()).
					Int("line", i+1).
					Msg("suspicious construct in generated script")
			}
		}
	}

	return findings
}

// Blocking reports whether any finding is severe enough to refuse dispatch.
func Blocking(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityCritical.String() {
			return true
		}
	}
	return false
}

// FailureHint is a coarse classification of render error output, used for
// metrics labels and log context.
type FailureHint string

const (
	HintMissingModule FailureHint = "missing_module"
	HintSyntaxError   FailureHint = "syntax_error"
	HintNameError     FailureHint = "name_error"
	HintAttributeErr  FailureHint = "attribute_error"
	HintLatexMissing  FailureHint = "latex_missing"
	HintOutOfMemory   FailureHint = "out_of_memory"
	HintManimMissing  FailureHint = "manim_missing"
	HintUnknown       FailureHint = "unknown"
)

// ClassifyFailure maps raw render error output to a FailureHint.
func ClassifyFailure(output string) FailureHint {
	switch {
	case strings.Contains(output, "No module named"):
		return HintMissingModule
	case strings.Contains(output, "'manim' is not recognized"),
		strings.Contains(output, "manim: command not found"):
		return HintManimMissing
	case strings.Contains(output, "SyntaxError"), strings.Contains(output, "IndentationError"):
		return HintSyntaxError
	case strings.Contains(output, "NameError"):
		return HintNameError
	case strings.Contains(output, "AttributeError"):
		return HintAttributeErr
	case strings.Contains(output, "latex") && strings.Contains(output, "not found"),
		strings.Contains(output, "LaTeX Error"):
		return HintLatexMissing
	case strings.Contains(output, "MemoryError"), strings.Contains(output, "Killed"):
		return HintOutOfMemory
	default:
		return HintUnknown
	}
}

func defaultPatterns() []InspectionPattern {
	return []InspectionPattern{
		{
			Name:        "subprocess_use",
			Description: "Spawning subprocesses from the render script",
			Regex:       regexp.MustCompile(`(?i)\b(subprocess\.(run|call|Popen|check_output)|os\.system|os\.popen)\b`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "dynamic_eval",
			Description: "Dynamic code evaluation",
			Regex:       regexp.MustCompile(`\b(eval|exec|compile)\s*\(`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "filesystem_destruction",
			Description: "Recursive deletion or permission changes",
			Regex:       regexp.MustCompile(`(?i)\b(shutil\.rmtree|os\.remove|os\.rmdir|os\.chmod|os\.chown)\b`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "network_access",
			Description: "Opening network connections from a render script",
			Regex:       regexp.MustCompile(`(?i)\b(socket\.socket|urllib\.request|requests\.(get|post)|http\.client)\b`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "sensitive_path_access",
			Description: "Reading host-sensitive paths",
			Regex:       regexp.MustCompile(`/etc/(passwd|shadow)|/proc/self|\.ssh/|docker\.sock`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "env_harvesting",
			Description: "Dumping the process environment",
			Regex:       regexp.MustCompile(`\bos\.environ\b`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "interpreter_exit",
			Description: "Forcing the interpreter to exit mid-render",
			Regex:       regexp.MustCompile(`\b(sys\.exit|os\._exit|quit\(\))`),
			Severity:    SeverityLow,
		},
	}
}
