package mock

import (
	"context"
	"sync"
	"testing"

	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/job"
	"github.com/opst/taskmon/pkg/rest"
)

type SubmitArgs struct {
	Application string
	Description string
	Job         []job.Descriptor
}

func New(t *testing.T) *MockTaskClient {
	return &MockTaskClient{t: t}
}

// MockTaskClient is a rest.TaskClient which calls Impl.
//
// Methods can be called from goroutines other than the test's one.
// When an Impl is not set, the call fails the test and returns zero values.
type MockTaskClient struct {
	t  *testing.T
	mu sync.Mutex

	Impl struct {
		Submit func(ctx context.Context, application string, description string, jobs []job.Descriptor) (tasks.Reference, error)
		Poll   func(ctx context.Context, ref tasks.Reference) (tasks.Status, error)
		Cancel func(ctx context.Context, taskId string) error
	}
	Calls struct {
		Submit []SubmitArgs
		Poll   []tasks.Reference
		Cancel []string
	}
}

var _ rest.TaskClient = &MockTaskClient{}

func (m *MockTaskClient) Submit(ctx context.Context, application string, description string, jobs []job.Descriptor) (tasks.Reference, error) {
	m.t.Helper()

	m.mu.Lock()
	m.Calls.Submit = append(m.Calls.Submit, SubmitArgs{
		Application: application, Description: description, Job: jobs,
	})
	impl := m.Impl.Submit
	m.mu.Unlock()

	if impl == nil {
		m.t.Error("Submit is not ready to be called")
		return tasks.Reference{}, nil
	}
	return impl(ctx, application, description, jobs)
}

func (m *MockTaskClient) Poll(ctx context.Context, ref tasks.Reference) (tasks.Status, error) {
	m.t.Helper()

	m.mu.Lock()
	m.Calls.Poll = append(m.Calls.Poll, ref)
	impl := m.Impl.Poll
	m.mu.Unlock()

	if impl == nil {
		m.t.Error("Poll is not ready to be called")
		return tasks.Status{}, nil
	}
	return impl(ctx, ref)
}

func (m *MockTaskClient) Cancel(ctx context.Context, taskId string) error {
	m.t.Helper()

	m.mu.Lock()
	m.Calls.Cancel = append(m.Calls.Cancel, taskId)
	impl := m.Impl.Cancel
	m.mu.Unlock()

	if impl == nil {
		m.t.Error("Cancel is not ready to be called")
		return nil
	}
	return impl(ctx, taskId)
}

// PollCount returns how many times Poll has been called.
func (m *MockTaskClient) PollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls.Poll)
}
