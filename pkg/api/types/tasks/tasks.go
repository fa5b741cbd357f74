package tasks

import (
	"encoding/json"
	"fmt"
	"path"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/opst/taskmon/pkg/job"
)

// State of a task, as seen by clients.
type State string

const (
	Running   State = "RUNNING"
	Succeeded State = "SUCCEEDED"
	Failed    State = "FAILED"
	Canceled  State = "CANCELED"
)

func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Canceled
}

// StateOf maps an execution status reported by the orchestration service to State.
//
// Unknown statuses are handled as Running, since the service reports them
// only for tasks which have not finished yet (NOT_STARTED, PAUSED, SUSPENDED, ...).
func StateOf(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCEEDED", "SKIPPED":
		return Succeeded
	case "TERMINAL", "FAILED", "FAILED_CONTINUE", "STOPPED":
		return Failed
	case "CANCELED", "CANCELLED":
		return Canceled
	default:
		return Running
	}
}

// Reference points a task created by the orchestration service.
type Reference struct {
	ID          string
	SubmittedAt time.Time
}

func (r Reference) String() string {
	return r.ID
}

// Request is the payload of POST /tasks.
type Request struct {
	Application string           `json:"application"`
	Description string           `json:"description"`
	Job         []job.Descriptor `json:"job"`
}

// Created is the response of POST /tasks.
//
// The orchestration service answers with "ref" (like "/tasks/01HX..."),
// and some proxies answer with "id".
type Created struct {
	ID  string `json:"id,omitempty"`
	Ref string `json:"ref,omitempty"`
}

// TaskID returns ID if it is given. Otherwise the last path segment of Ref.
func (c Created) TaskID() string {
	if c.ID != "" {
		return c.ID
	}
	if c.Ref == "" {
		return ""
	}
	id := path.Base(strings.TrimSuffix(c.Ref, "/"))
	if id == "." || id == "/" {
		return ""
	}
	return id
}

// Status is a snapshot of a task.
type Status struct {
	TaskID string

	// State mapped from RawStatus.
	State State

	// status string as the orchestration service reported.
	RawStatus string

	Steps     []StepStatus
	Variables Variables
}

func (s Status) Equal(o Status) bool {
	return s.TaskID == o.TaskID &&
		s.State == o.State &&
		s.RawStatus == o.RawStatus &&
		slices.EqualFunc(s.Steps, o.Steps, StepStatus.Equal) &&
		s.Variables.Equal(o.Variables)
}

// Completed counts steps in a terminal state.
func (s Status) Completed() int {
	n := 0
	for _, st := range s.Steps {
		if st.State.Terminal() {
			n += 1
		}
	}
	return n
}

// Current returns the first step which is not finished.
func (s Status) Current() (StepStatus, bool) {
	for _, st := range s.Steps {
		if !st.State.Terminal() {
			return st, true
		}
	}
	return StepStatus{}, false
}

type statusJson struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Execution execution `json:"execution"`
	Variables Variables `json:"variables,omitempty"`
}

type execution struct {
	Stages []StepStatus `json:"stages"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	raw := s.RawStatus
	if raw == "" {
		raw = string(s.State)
	}
	steps := s.Steps
	if steps == nil {
		steps = []StepStatus{}
	}
	return json.Marshal(statusJson{
		ID:        s.TaskID,
		Status:    raw,
		Execution: execution{Stages: steps},
		Variables: s.Variables,
	})
}

func (s *Status) UnmarshalJSON(b []byte) error {
	sj := statusJson{}
	if err := json.Unmarshal(b, &sj); err != nil {
		return err
	}
	if sj.Status == "" {
		return fmt.Errorf(`required field missing: "status"`)
	}
	*s = Status{
		TaskID:    sj.ID,
		State:     StateOf(sj.Status),
		RawStatus: sj.Status,
		Steps:     sj.Execution.Stages,
		Variables: sj.Variables,
	}
	return nil
}

// StepStatus is a status of a stage in the task's execution.
type StepStatus struct {
	ID        string
	Name      string
	Type      string
	RawStatus string
	State     State
	StartTime *time.Time
	EndTime   *time.Time
}

func (s StepStatus) Equal(o StepStatus) bool {
	timeEq := func(a, b *time.Time) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return a.Equal(*b)
	}
	return s.ID == o.ID &&
		s.Name == o.Name &&
		s.Type == o.Type &&
		s.RawStatus == o.RawStatus &&
		s.State == o.State &&
		timeEq(s.StartTime, o.StartTime) &&
		timeEq(s.EndTime, o.EndTime)
}

// timestamps are epoch milliseconds on the wire.
type stepJson struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	StartTime *int64 `json:"startTime,omitempty"`
	EndTime   *int64 `json:"endTime,omitempty"`
}

func toMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	m := t.UnixMilli()
	return &m
}

func fromMillis(m *int64) *time.Time {
	if m == nil {
		return nil
	}
	t := time.UnixMilli(*m).UTC()
	return &t
}

func (s StepStatus) MarshalJSON() ([]byte, error) {
	raw := s.RawStatus
	if raw == "" {
		raw = string(s.State)
	}
	return json.Marshal(stepJson{
		ID:        s.ID,
		Name:      s.Name,
		Type:      s.Type,
		Status:    raw,
		StartTime: toMillis(s.StartTime),
		EndTime:   toMillis(s.EndTime),
	})
}

func (s *StepStatus) UnmarshalJSON(b []byte) error {
	sj := stepJson{}
	if err := json.Unmarshal(b, &sj); err != nil {
		return err
	}
	*s = StepStatus{
		ID:        sj.ID,
		Name:      sj.Name,
		Type:      sj.Type,
		RawStatus: sj.Status,
		State:     StateOf(sj.Status),
		StartTime: fromMillis(sj.StartTime),
		EndTime:   fromMillis(sj.EndTime),
	}
	return nil
}

// Variables are outputs of a task.
//
// The orchestration service reports them as a list of {"key", "value"} pairs.
// A plain JSON object is also accepted.
type Variables map[string]any

type variable struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (v Variables) Equal(o Variables) bool {
	if len(v) == 0 && len(o) == 0 {
		return true
	}
	return reflect.DeepEqual(v, o)
}

func (v Variables) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	list := make([]variable, 0, len(v))
	for _, k := range keys {
		list = append(list, variable{Key: k, Value: v[k]})
	}
	return json.Marshal(list)
}

func (v *Variables) UnmarshalJSON(b []byte) error {
	var list []variable
	if err := json.Unmarshal(b, &list); err == nil {
		vs := make(Variables, len(list))
		for _, item := range list {
			vs[item.Key] = item.Value
		}
		*v = vs
		return nil
	}

	obj := map[string]any{}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("variables should be a list of key-value pairs or an object: %w", err)
	}
	*v = obj
	return nil
}
