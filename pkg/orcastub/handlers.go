package orcastub

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	apierr "github.com/opst/taskmon/pkg/api/types/errors"
	"github.com/opst/taskmon/pkg/api/types/tasks"
)

// PostTaskHandler creates a task from tasks.Request,
// and responds its reference as {"ref": "/tasks/<id>"}.
func PostTaskHandler(store *Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := tasks.Request{}
		if err := c.Bind(&req); err != nil {
			return apierr.BadRequest("request body is not a task", err)
		}

		if claims, ok := c.Get(claimsKey).(*Claims); ok && claims.Application != "" {
			if claims.Application != req.Application {
				return apierr.Forbidden(fmt.Sprintf("the token is not for application %s", req.Application))
			}
		}

		id, err := store.Create(req)
		if errors.Is(err, ErrRejected) {
			return apierr.BadRequest(err.Error(), nil)
		} else if err != nil {
			return apierr.InternalServerError(err)
		}

		c.Logger().Infof("task %s is created for %s", id, req.Application)
		return c.JSON(http.StatusOK, tasks.Created{Ref: "/tasks/" + id})
	}
}

// GetTaskHandler responds the status of the task identified by the path parameter.
func GetTaskHandler(store *Store, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param(param)
		st, err := store.Status(id)
		switch {
		case errors.Is(err, ErrMissing):
			return apierr.NotFound(fmt.Sprintf("task %s is not found", id))
		case errors.Is(err, ErrUnavailable):
			return apierr.ServiceUnavailable("please retry later", nil)
		case err != nil:
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, st)
	}
}

// CancelTaskHandler cancels the task identified by the path parameter.
func CancelTaskHandler(store *Store, param string) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param(param)
		err := store.Cancel(id)
		switch {
		case errors.Is(err, ErrMissing):
			return apierr.NotFound(fmt.Sprintf("task %s is not found", id))
		case errors.Is(err, ErrFinished):
			return apierr.Conflict(
				fmt.Sprintf("task %s has been finished", id),
				apierr.WithAdvice("finished tasks cannot be canceled"),
			)
		case err != nil:
			return apierr.InternalServerError(err)
		}
		c.Logger().Infof("task %s is canceled", id)
		return c.NoContent(http.StatusAccepted)
	}
}
