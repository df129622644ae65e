// Package script holds the script data model and the text-level helpers the
// orchestrator needs: resolving caller input into script content, finding the
// scene class a render command should target, and stripping the markdown
// artifacts AI providers wrap their responses in.
package script

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a script. Only the orchestrator mutates it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExecuting  Status = "executing"
	StatusDebugging  Status = "debugging"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Script is a unit of generated Manim source plus metadata.
type Script struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	SceneClass string `json:"scene_class,omitempty"` // empty until extracted
	Status     Status `json:"status"`
}

// InputKind discriminates the ways a caller can hand a script to Execute.
type InputKind int

const (
	// KindText is raw script source.
	KindText InputKind = iota
	// KindHandle references a previously stored script by ID.
	KindHandle
	// KindPayload is a structured payload carrying content and an optional ID.
	KindPayload
)

// Input is the tagged variant of everything Execute accepts. Construct it with
// FromText, FromHandle or FromPayload; the zero value is invalid.
type Input struct {
	kind    InputKind
	text    string
	handle  string
	payload Payload
	valid   bool
}

// Payload is the structured form of a script submission.
type Payload struct {
	Content string `json:"content"`
	ID      string `json:"id,omitempty"`
}

func FromText(content string) Input {
	return Input{kind: KindText, text: content, valid: true}
}

func FromHandle(id string) Input {
	return Input{kind: KindHandle, handle: id, valid: true}
}

func FromPayload(p Payload) Input {
	return Input{kind: KindPayload, payload: p, valid: p.Content != ""}
}

// Kind reports which variant this input is.
func (in Input) Kind() InputKind { return in.kind }

// Handle returns the script ID for KindHandle inputs.
func (in Input) Handle() string { return in.handle }

// Resolve turns the input into a Script with a usable ID and content.
// Handle inputs cannot be resolved here; the caller must load them first.
func (in Input) Resolve() (Script, error) {
	switch {
	case !in.valid:
		return Script{}, fmt.Errorf("input carries no script content")
	case in.kind == KindText:
		if strings.TrimSpace(in.text) == "" {
			return Script{}, fmt.Errorf("input carries no script content")
		}
		return Script{ID: uuid.New().String(), Content: in.text, Status: StatusPending}, nil
	case in.kind == KindPayload:
		id := in.payload.ID
		if id == "" {
			id = uuid.New().String()
		}
		return Script{ID: id, Content: in.payload.Content, Status: StatusPending}, nil
	default:
		return Script{}, fmt.Errorf("handle input %q must be loaded before resolving", in.handle)
	}
}

// sceneClassRe matches a top-level Manim scene declaration like
// "class PythagorasProof(Scene):". Subclasses of Scene variants
// (MovingCameraScene etc.) are matched too.
var sceneClassRe = regexp.MustCompile(`^\s*class\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(\s*[A-Za-z0-9_.]*Scene\s*\)`)

// ExtractSceneClass scans script content for the first scene class declaration
// and returns its name, or "" when none is present.
func ExtractSceneClass(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if m := sceneClassRe.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// Clean strips markdown code-fence artifacts that text-generation providers
// wrap around their responses despite being told not to.
func Clean(content string) string {
	cleaned := strings.ReplaceAll(content, "```python", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	return strings.TrimSpace(cleaned)
}
