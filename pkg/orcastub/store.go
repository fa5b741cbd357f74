package orcastub

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/job"
	"k8s.io/utils/clock"
)

var (
	ErrMissing     = errors.New("task not found")
	ErrFinished    = errors.New("task has been finished")
	ErrRejected    = errors.New("task is rejected")
	ErrUnavailable = errors.New("unavailable temporarily")
)

const notStarted = "NOT_STARTED"

type stage struct {
	id       string
	name     string
	scenario StageScenario
}

type task struct {
	id          string
	application string
	description string
	stages      []stage
	createdAt   time.Time
	canceledAt  *time.Time
}

// Store keeps tasks in memory. Status of a task is derived from the clock.
type Store struct {
	clock clock.PassiveClock

	mu       sync.Mutex
	scenario Scenario
	tasks    map[string]*task
	gets     int
}

func NewStore(scenario Scenario, clk clock.PassiveClock) *Store {
	return &Store{
		clock:    clk,
		scenario: scenario,
		tasks:    map[string]*task{},
	}
}

// Create registers a task, and starts its first stage.
func (s *Store) Create(req tasks.Request) (string, error) {
	if strings.TrimSpace(req.Application) == "" {
		return "", fmt.Errorf("%w: application is required", ErrRejected)
	}
	if _, err := job.New().Append(req.Job...).Build(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRejected, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stages := make([]stage, 0, len(req.Job))
	for _, d := range req.Job {
		sc := s.scenario.stage(d.Type)
		if sc.Reject != "" {
			return "", fmt.Errorf("%w: %s", ErrRejected, sc.Reject)
		}
		name := d.Type
		if n, ok := d.Parameters["name"].(string); ok && n != "" {
			name = n
		}
		stages = append(stages, stage{id: uuid.NewString(), name: name, scenario: sc})
	}

	t := &task{
		id:          uuid.NewString(),
		application: req.Application,
		description: req.Description,
		stages:      stages,
		createdAt:   s.clock.Now(),
	}
	s.tasks[t.id] = t
	return t.id, nil
}

// Status reports the task as of now.
//
// # Returns
//
// - tasks.Status
//
// - error: ErrMissing when the task is unknown or expired,
// ErrUnavailable when the scenario says this request fails.
func (s *Store) Status(id string) (tasks.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets += 1
	if every := s.scenario.FailEvery; 0 < every && s.gets%every == 0 {
		return tasks.Status{}, ErrUnavailable
	}

	t, ok := s.tasks[id]
	if !ok {
		return tasks.Status{}, fmt.Errorf("%w: %s", ErrMissing, id)
	}
	now := s.clock.Now()
	st, finishedAt := t.status(now)
	if finishedAt != nil && 0 < s.scenario.Retention && s.scenario.Retention <= now.Sub(*finishedAt) {
		delete(s.tasks, id)
		return tasks.Status{}, fmt.Errorf("%w: %s", ErrMissing, id)
	}
	return st, nil
}

// Cancel stops the task. A finished task cannot be canceled.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissing, id)
	}
	now := s.clock.Now()
	if _, finishedAt := t.status(now); finishedAt != nil {
		return fmt.Errorf("%w: %s", ErrFinished, id)
	}
	t.canceledAt = &now
	return nil
}

// SetScenario replaces the scenario. Tasks created already keep their stages.
func (s *Store) SetScenario(scenario Scenario) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenario = scenario
}

// status of the task at now, and when it has been finished (nil if running).
func (t *task) status(now time.Time) (tasks.Status, *time.Time) {
	steps := make([]tasks.StepStatus, 0, len(t.stages))
	vars := tasks.Variables{}
	overall := string(tasks.Running)
	var finishedAt *time.Time

	begin := t.createdAt
	for _, st := range t.stages {
		step := tasks.StepStatus{ID: st.id, Name: st.name, RawStatus: notStarted}
		end := begin.Add(st.scenario.Duration)

		if finishedAt != nil || now.Before(begin) {
			step.State = tasks.StateOf(step.RawStatus)
			steps = append(steps, step)
			begin = end
			continue
		}

		start := begin
		step.StartTime = &start
		switch {
		case t.canceledAt != nil && t.canceledAt.Before(end):
			at := *t.canceledAt
			step.RawStatus = string(OutcomeCanceled)
			step.EndTime = &at
			overall = string(OutcomeCanceled)
			finishedAt = &at
		case now.Before(end):
			step.RawStatus = string(tasks.Running)
		default:
			step.EndTime = &end
			step.RawStatus = string(st.scenario.Outcome)
			if st.scenario.Outcome == OutcomeSucceeded {
				maps.Copy(vars, st.scenario.Outputs)
			} else {
				overall = string(st.scenario.Outcome)
				finishedAt = &end
			}
		}
		step.State = tasks.StateOf(step.RawStatus)
		steps = append(steps, step)
		begin = end
	}

	if finishedAt == nil && !now.Before(begin) {
		at := begin
		overall = string(OutcomeSucceeded)
		finishedAt = &at
	}

	return tasks.Status{
		TaskID:    t.id,
		State:     tasks.StateOf(overall),
		RawStatus: overall,
		Steps:     steps,
		Variables: vars,
	}, finishedAt
}
