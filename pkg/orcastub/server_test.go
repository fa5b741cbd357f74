package orcastub_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/configs/profiles"
	"github.com/opst/taskmon/pkg/orcastub"
	"github.com/opst/taskmon/pkg/rest"
	"github.com/opst/taskmon/pkg/utils/try"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	clocktesting "k8s.io/utils/clock/testing"
)

func clientFor(t *testing.T, server *httptest.Server, token string) *rest.Client {
	t.Helper()
	return try.To(rest.NewClient(&profiles.Profile{
		ApiRoot: server.URL,
		Token:   token,
	})).OrFatal(t)
}

func TestServer(t *testing.T) {
	ctx := context.Background()

	t.Run("a task submitted can be polled until it succeeds", func(t *testing.T) {
		clk := clocktesting.NewFakePassiveClock(epoch)
		store := orcastub.NewStore(orcastub.Scenario{StageDuration: 10 * time.Second}, clk)
		server := httptest.NewServer(orcastub.New(store))
		defer server.Close()
		client := clientFor(t, server, "")

		ref := try.To(client.Submit(ctx, "app", "test task", request(t, "bake", "wait").Job)).OrFatal(t)
		if ref.ID == "" {
			t.Fatal("task id is empty")
		}

		st := try.To(client.Poll(ctx, ref)).OrFatal(t)
		if st.TaskID != ref.ID || st.State != tasks.Running || len(st.Steps) != 2 {
			t.Errorf("unexpected status: %+v", st)
		}

		clk.SetTime(epoch.Add(20 * time.Second))
		st = try.To(client.Poll(ctx, ref)).OrFatal(t)
		if st.State != tasks.Succeeded {
			t.Errorf("unexpected status: %+v", st)
		}
	})

	t.Run("a rejected task is reported as rejected", func(t *testing.T) {
		store := orcastub.NewStore(orcastub.Scenario{
			Types: map[string]orcastub.StageScenario{"destroyServerGroup": {Reject: "destroying is not allowed"}},
		}, clocktesting.NewFakePassiveClock(epoch))
		server := httptest.NewServer(orcastub.New(store))
		defer server.Close()
		client := clientFor(t, server, "")

		_, err := client.Submit(ctx, "app", "", request(t, "destroyServerGroup").Job)
		serr := new(rest.SubmissionError)
		if !errors.As(err, &serr) {
			t.Fatalf("unexpected error: %v", err)
		}
		if serr.Kind != rest.SubmissionRejected || serr.StatusCode != http.StatusBadRequest {
			t.Errorf("unexpected error: %v", serr)
		}
		if !strings.Contains(serr.Message, "destroying is not allowed") {
			t.Errorf("unexpected message: %s", serr.Message)
		}
	})

	t.Run("unknown task is not found", func(t *testing.T) {
		store := orcastub.NewStore(orcastub.Default(), clocktesting.NewFakePassiveClock(epoch))
		server := httptest.NewServer(orcastub.New(store))
		defer server.Close()
		client := clientFor(t, server, "")

		_, err := client.Poll(ctx, tasks.Reference{ID: "no-such-task"})
		perr := new(rest.PollError)
		if !errors.As(err, &perr) || perr.Kind != rest.PollNotFound {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("failing polls are transient", func(t *testing.T) {
		store := orcastub.NewStore(
			orcastub.Scenario{StageDuration: time.Minute, FailEvery: 1},
			clocktesting.NewFakePassiveClock(epoch),
		)
		server := httptest.NewServer(orcastub.New(store))
		defer server.Close()
		client := clientFor(t, server, "")

		ref := try.To(client.Submit(ctx, "app", "", request(t, "wait").Job)).OrFatal(t)
		_, err := client.Poll(ctx, ref)
		perr := new(rest.PollError)
		if !errors.As(err, &perr) || !perr.Transient() || perr.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("a task can be canceled once", func(t *testing.T) {
		store := orcastub.NewStore(orcastub.Scenario{StageDuration: time.Minute}, clocktesting.NewFakePassiveClock(epoch))
		server := httptest.NewServer(orcastub.New(store))
		defer server.Close()
		client := clientFor(t, server, "")

		ref := try.To(client.Submit(ctx, "app", "", request(t, "wait").Job)).OrFatal(t)
		if err := client.Cancel(ctx, ref.ID); err != nil {
			t.Fatal(err)
		}
		st := try.To(client.Poll(ctx, ref)).OrFatal(t)
		if st.State != tasks.Canceled {
			t.Errorf("unexpected status: %+v", st)
		}

		rerr := new(rest.ResponseError)
		if err := client.Cancel(ctx, ref.ID); !errors.As(err, &rerr) || rerr.StatusCode != http.StatusConflict {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestServer_Authentication(t *testing.T) {
	ctx := context.Background()
	secret := []byte("0123456789abcdef")

	newServer := func(t *testing.T, clk *clocktesting.FakePassiveClock) *httptest.Server {
		store := orcastub.NewStore(orcastub.Default(), clk)
		server := httptest.NewServer(orcastub.New(store, orcastub.WithSecret(secret)))
		t.Cleanup(server.Close)
		return server
	}

	type Then struct {
		accepted bool
		status   int
	}

	theory := func(token func(*testing.T, *clocktesting.FakePassiveClock) string, application string, then Then) func(*testing.T) {
		return func(t *testing.T) {
			clk := clocktesting.NewFakePassiveClock(epoch)
			server := newServer(t, clk)
			client := clientFor(t, server, token(t, clk))

			_, err := client.Submit(ctx, application, "", request(t, "wait").Job)
			if then.accepted {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			serr := new(rest.SubmissionError)
			if !errors.As(err, &serr) || serr.StatusCode != then.status {
				t.Errorf("unexpected error: %v", err)
			}
		}
	}

	issue := func(sec []byte, app string, ttl time.Duration) func(*testing.T, *clocktesting.FakePassiveClock) string {
		return func(t *testing.T, clk *clocktesting.FakePassiveClock) string {
			return try.To(orcastub.IssueToken(sec, app, ttl, clk)).OrFatal(t)
		}
	}

	t.Run("a valid token is accepted", theory(
		issue(secret, "", time.Hour), "app", Then{accepted: true},
	))
	t.Run("a token for the application is accepted", theory(
		issue(secret, "app", time.Hour), "app", Then{accepted: true},
	))
	t.Run("a token for another application is forbidden", theory(
		issue(secret, "other", time.Hour), "app", Then{status: http.StatusForbidden},
	))
	t.Run("a token signed with another secret is unauthorized", theory(
		issue([]byte("fedcba9876543210"), "", time.Hour), "app", Then{status: http.StatusUnauthorized},
	))
	t.Run("no token is unauthorized", theory(
		func(*testing.T, *clocktesting.FakePassiveClock) string { return "" }, "app", Then{status: http.StatusUnauthorized},
	))
	t.Run("an expired token is unauthorized", theory(
		func(t *testing.T, clk *clocktesting.FakePassiveClock) string {
			tok := try.To(orcastub.IssueToken(secret, "", time.Minute, clk)).OrFatal(t)
			clk.SetTime(epoch.Add(time.Hour))
			return tok
		},
		"app", Then{status: http.StatusUnauthorized},
	))
}

func TestVerifyToken(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(epoch)
	secret := []byte("0123456789abcdef")
	tok := try.To(orcastub.IssueToken(secret, "app", time.Hour, clk)).OrFatal(t)

	claims := try.To(orcastub.VerifyToken(secret, tok, clk)).OrFatal(t)
	if claims.Application != "app" || claims.Issuer != "orcastub" {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(epoch.Add(time.Hour)) {
		t.Errorf("unexpected expiry: %v", claims.ExpiresAt)
	}
}

func TestServer_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewPedanticRegistry()
	store := orcastub.NewStore(orcastub.Default(), clocktesting.NewFakePassiveClock(epoch))
	server := httptest.NewServer(orcastub.New(store, orcastub.WithRegistry(reg)))
	defer server.Close()
	client := clientFor(t, server, "")

	ref := try.To(client.Submit(ctx, "app", "", request(t, "wait").Job)).OrFatal(t)
	try.To(client.Poll(ctx, ref)).OrFatal(t)
	client.Poll(ctx, tasks.Reference{ID: "no-such-task"})

	if n := try.To(testutil.GatherAndCount(reg, "orcastub_requests_total")).OrFatal(t); n != 3 {
		t.Errorf("unexpected series: %d", n)
	}

	resp := try.To(http.Get(server.URL + "/metrics")).OrFatal(t)
	defer resp.Body.Close()
	body := try.To(io.ReadAll(resp.Body)).OrFatal(t)
	if !strings.Contains(string(body), `orcastub_requests_total{code="404",method="GET",route="/tasks/:taskId"} 1`) {
		t.Errorf("unexpected metrics:\n%s", body)
	}
}
