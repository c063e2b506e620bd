// Package swing segments a stream of pose samples into golf swing phases and
// collects the per-frame records handed to the feedback generator.
package swing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Phase is a stage of the swing. Phases are ordered and a detector only ever
// moves forward through them.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseSetup
	PhaseBackswing
	PhaseDownswing
	PhaseFollowThrough
	PhaseEnd
)

var phaseNames = [...]string{
	PhaseWaiting:       "waiting",
	PhaseSetup:         "setup",
	PhaseBackswing:     "backswing",
	PhaseDownswing:     "downswing",
	PhaseFollowThrough: "followthrough",
	PhaseEnd:           "end",
}

func (p Phase) String() string {
	if p < PhaseWaiting || p > PhaseEnd {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseEnd
}

// ParsePhase converts a phase label into a Phase.
func ParsePhase(value string) (Phase, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for i, name := range phaseNames {
		if name == normalized {
			return Phase(i), nil
		}
	}
	return PhaseWaiting, fmt.Errorf("unknown phase %q", value)
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON allows phases to be loaded from JSON strings.
func (p *Phase) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParsePhase(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
