package provenance

import (
	"encoding/json"
	"fmt"
)

const (
	StepApply = "apply"
	StepUndo  = "undo"
	StepRedo  = "redo"
	StepClear = "clear"
)

// Step is one entry of an edit script:
//
//	[{"do":"apply","op":{"t":"transform","p":{"kind":"crop","crop":[0,0,10,10]}}},{"do":"undo"}]
type Step struct {
	Do string     `json:"do"`
	Op *Operation `json:"op,omitempty"`
}

type StepOutcome struct {
	Do      string `json:"do"`
	Changed bool   `json:"changed"`
}

func ParseScript(raw []byte) ([]Step, error) {
	var steps []Step
	if err := json.Unmarshal(raw, &steps); err != nil {
		return nil, fmt.Errorf("parse edit script: %w", err)
	}
	return steps, nil
}

// RunScript drives a session through steps. Undo and redo past either end
// are reported as unchanged, not as errors.
func RunScript(s *Session, steps []Step) ([]StepOutcome, error) {
	outcomes := make([]StepOutcome, 0, len(steps))
	for i, step := range steps {
		out := StepOutcome{Do: step.Do}
		switch step.Do {
		case StepApply:
			if step.Op == nil {
				return outcomes, fmt.Errorf("step %d: apply requires op", i)
			}
			if err := s.Apply(*step.Op); err != nil {
				return outcomes, fmt.Errorf("step %d: %w", i, err)
			}
			out.Changed = true
		case StepUndo:
			_, out.Changed = s.Undo()
		case StepRedo:
			_, out.Changed = s.Redo()
		case StepClear:
			s.Clear()
			out.Changed = true
		default:
			return outcomes, fmt.Errorf("step %d: unknown action %q", i, step.Do)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
