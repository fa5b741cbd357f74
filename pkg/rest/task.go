package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/job"
)

func (c *Client) Submit(
	ctx context.Context, application string, description string, jobs []job.Descriptor,
) (tasks.Reference, error) {
	if strings.TrimSpace(application) == "" {
		return tasks.Reference{}, &SubmissionError{
			Kind: SubmissionInvalid, Message: "application is required",
		}
	}
	if len(jobs) == 0 {
		return tasks.Reference{}, &SubmissionError{
			Kind: SubmissionInvalid, Message: "job should have one descriptor at least",
		}
	}

	body, err := json.Marshal(tasks.Request{
		Application: application,
		Description: description,
		Job:         jobs,
	})
	if err != nil {
		return tasks.Reference{}, &SubmissionError{
			Kind: SubmissionInvalid, Message: "job is not serializable", Err: err,
		}
	}

	resp, err := c.do(ctx, http.MethodPost, c.apipath("tasks"), bytes.NewReader(body))
	if err != nil {
		return tasks.Reference{}, &SubmissionError{Kind: SubmissionTransport, Err: err}
	}
	defer discard(resp)

	switch StatusCodeRangeOf(resp) {
	case Status2xx:
		created := tasks.Created{}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return tasks.Reference{}, &SubmissionError{
				Kind:       SubmissionTransport,
				StatusCode: resp.StatusCode,
				Message:    "response is not understandable. the task may be created",
				Err:        err,
			}
		}
		id := created.TaskID()
		if id == "" {
			return tasks.Reference{}, &SubmissionError{
				Kind:       SubmissionTransport,
				StatusCode: resp.StatusCode,
				Message:    "response does not have task id. the task may be created",
			}
		}
		return tasks.Reference{ID: id, SubmittedAt: c.clock.Now()}, nil
	case Status4xx:
		return tasks.Reference{}, &SubmissionError{
			Kind:       SubmissionRejected,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp),
		}
	default:
		return tasks.Reference{}, &SubmissionError{
			Kind:       SubmissionTransport,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp),
		}
	}
}

func (c *Client) Poll(ctx context.Context, ref tasks.Reference) (tasks.Status, error) {
	if ref.ID == "" {
		return tasks.Status{}, &PollError{Kind: PollNotFound, Message: "task id is empty"}
	}

	resp, err := c.do(ctx, http.MethodGet, c.apipath("tasks", url.PathEscape(ref.ID)), nil)
	if err != nil {
		return tasks.Status{}, &PollError{Kind: PollTransport, TaskID: ref.ID, Err: err}
	}
	defer discard(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return tasks.Status{}, &PollError{
			Kind:       PollNotFound,
			TaskID:     ref.ID,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp),
		}
	case StatusCodeRangeOf(resp) != Status2xx:
		return tasks.Status{}, &PollError{
			Kind:       PollTransport,
			TaskID:     ref.ID,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp),
		}
	}

	status := tasks.Status{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return tasks.Status{}, &PollError{
			Kind:       PollTransport,
			TaskID:     ref.ID,
			StatusCode: resp.StatusCode,
			Message:    "response is not understandable",
			Err:        err,
		}
	}
	if status.TaskID == "" {
		status.TaskID = ref.ID
	}
	return status, nil
}

func (c *Client) Cancel(ctx context.Context, taskId string) error {
	if taskId == "" {
		return fmt.Errorf("task id is empty")
	}

	resp, err := c.do(
		ctx, http.MethodPut, c.apipath("tasks", url.PathEscape(taskId), "cancel"), nil,
	)
	if err != nil {
		return err
	}
	defer discard(resp)

	if StatusCodeRangeOf(resp) != Status2xx {
		return &ResponseError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp)}
	}
	return nil
}
