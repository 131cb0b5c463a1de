package circle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/signalsfoundry/social-orbit/model"
)

// ErrInvalidScenario is returned for scenario documents that cannot be
// replayed.
var ErrInvalidScenario = errors.New("invalid scenario")

// Step operations.
const (
	OpRelate       = "relate"
	OpUnrelate     = "unrelate"
	OpRemovePerson = "remove_person"
	OpAngle        = "angle"
	OpTrack        = "track"
)

// Scenario is a replayable circle: a center user followed by ordered steps.
type Scenario struct {
	Center PersonSpec `json:"center"`
	Steps  []Step     `json:"steps"`
}

// PersonSpec describes a person in a scenario document.
type PersonSpec struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	Sex  string `json:"sex"` // "M" | "F"
}

// Step is a single scenario mutation. Which fields matter depends on Op.
type Step struct {
	Op       string   `json:"op"`
	From     string   `json:"from,omitempty"`
	To       string   `json:"to,omitempty"`
	Name     string   `json:"name,omitempty"`
	Weight   float64  `json:"weight,omitempty"`
	Angle    *float64 `json:"angle,omitempty"`
	Level    int      `json:"level,omitempty"`
	Capacity int      `json:"capacity,omitempty"`
}

// Person builds the model person for s. Anything but "F" is male.
func (s PersonSpec) Person() *model.Person {
	sex := model.SexMale
	if strings.EqualFold(strings.TrimSpace(s.Sex), "f") {
		sex = model.SexFemale
	}
	return model.NewPerson(s.Name, s.Age, sex)
}

// LoadScenario decodes and validates a JSON scenario from r.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: decode failed: %w", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every step names the fields its operation needs.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Center.Name) == "" {
		return fmt.Errorf("%w: center name is required", ErrInvalidScenario)
	}
	for i, st := range s.Steps {
		if err := st.validate(); err != nil {
			return fmt.Errorf("%w: step %d: %w", ErrInvalidScenario, i+1, err)
		}
	}
	return nil
}

func (st Step) validate() error {
	switch st.Op {
	case OpRelate, OpUnrelate:
		if st.From == "" || st.To == "" {
			return fmt.Errorf("%s needs from and to", st.Op)
		}
	case OpRemovePerson:
		if st.Name == "" {
			return fmt.Errorf("%s needs name", st.Op)
		}
	case OpAngle:
		if st.Name == "" || st.Angle == nil {
			return fmt.Errorf("%s needs name and angle", st.Op)
		}
	case OpTrack:
		if st.Level < 1 {
			return fmt.Errorf("%s needs a level of at least 1", st.Op)
		}
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// Apply sets the scenario's center and replays every step in order,
// stopping at the first failure.
func (c *Circle) Apply(ctx context.Context, s *Scenario) error {
	if s == nil {
		return fmt.Errorf("%w: nil scenario", ErrInvalidScenario)
	}
	if _, err := c.AddCenter(ctx, s.Center.Person()); err != nil {
		return err
	}
	for i, st := range s.Steps {
		if err := c.ApplyStep(ctx, st); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Op, err)
		}
	}
	return nil
}

// ApplyStep performs a single scenario step.
func (c *Circle) ApplyStep(ctx context.Context, st Step) error {
	if err := st.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	switch st.Op {
	case OpRelate:
		if st.Angle != nil {
			return c.AddRelationAt(ctx, st.From, st.To, st.Weight, *st.Angle)
		}
		return c.AddRelation(ctx, st.From, st.To, st.Weight)
	case OpUnrelate:
		_, err := c.RemoveRelation(ctx, st.From, st.To)
		return err
	case OpRemovePerson:
		return c.RemovePerson(ctx, st.Name)
	case OpAngle:
		return c.ChangeAngle(ctx, st.Name, *st.Angle)
	default:
		return c.DeclareTrack(ctx, st.Level, st.Capacity)
	}
}
