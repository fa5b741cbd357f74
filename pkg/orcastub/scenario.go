package orcastub

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario tells how the stub runs tasks.
//
// Each job descriptor becomes a stage. Stages run one by one,
// and each stage takes StageDuration unless its type says otherwise.
//
// Example:
//
//	stageDuration: 2s
//	failEvery: 5
//	retention: 10m
//	types:
//	  wait:
//	    duration: 30s
//	  deploy:
//	    outcome: TERMINAL
//	  destroyServerGroup:
//	    reject: "destroying is not allowed"
type Scenario struct {
	// duration of a stage. Default: 1s
	StageDuration time.Duration `yaml:"stageDuration"`

	// every Nth GET of a task is answered with 503. 0 disables.
	FailEvery int `yaml:"failEvery"`

	// finished tasks are forgotten after this. 0 keeps them forever.
	Retention time.Duration `yaml:"retention"`

	// behavior per operation type.
	Types map[string]StageScenario `yaml:"types"`
}

// Outcome is how a stage ends.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeTerminal  Outcome = "TERMINAL"
	OutcomeCanceled  Outcome = "CANCELED"
)

type StageScenario struct {
	// overrides Scenario.StageDuration when positive.
	Duration time.Duration `yaml:"duration"`

	// Default: SUCCEEDED
	Outcome Outcome `yaml:"outcome"`

	// when not empty, tasks having this type are rejected with the message.
	Reject string `yaml:"reject"`

	// variables put when the stage succeeded.
	Outputs map[string]any `yaml:"outputs"`
}

const DefaultStageDuration = time.Second

// Default is the scenario where every stage succeeds in DefaultStageDuration.
func Default() Scenario {
	return Scenario{StageDuration: DefaultStageDuration}
}

func (s Scenario) stage(operationType string) StageScenario {
	st := s.Types[operationType]
	if st.Duration <= 0 {
		st.Duration = s.StageDuration
	}
	if st.Duration <= 0 {
		st.Duration = DefaultStageDuration
	}
	if st.Outcome == "" {
		st.Outcome = OutcomeSucceeded
	}
	return st
}

func (s Scenario) validate() error {
	if s.StageDuration < 0 {
		return fmt.Errorf("stageDuration should not be negative: %s", s.StageDuration)
	}
	if s.FailEvery < 0 {
		return fmt.Errorf("failEvery should not be negative: %d", s.FailEvery)
	}
	if s.Retention < 0 {
		return fmt.Errorf("retention should not be negative: %s", s.Retention)
	}
	for name, t := range s.Types {
		switch Outcome(strings.ToUpper(string(t.Outcome))) {
		case "", OutcomeSucceeded, OutcomeTerminal, OutcomeCanceled:
		default:
			return fmt.Errorf("types.%s.outcome: unknown outcome %s", name, t.Outcome)
		}
	}
	return nil
}

// ParseScenario reads a scenario from YAML. Missing fields are taken from Default().
func ParseScenario(r io.Reader) (Scenario, error) {
	s := Default()
	if err := yaml.NewDecoder(r).Decode(&s); err != nil && err != io.EOF {
		return Scenario{}, err
	}
	for name, t := range s.Types {
		t.Outcome = Outcome(strings.ToUpper(string(t.Outcome)))
		s.Types[name] = t
	}
	if err := s.validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

func LoadScenario(path string) (Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return Scenario{}, err
	}
	defer f.Close()

	s, err := ParseScenario(f)
	if err != nil {
		return Scenario{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}
