// orcastub serves the orchestration service API, running tasks following a scenario file.
//
// Usage:
//
//	orcastub [--port 8080] [--scenario scenario.yaml] [--secret-file secret] [--loglevel info]
//	orcastub token --secret-file secret [--application app] [--ttl 24h]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opst/taskmon/pkg/filewatch"
	"github.com/opst/taskmon/pkg/orcastub"
	"k8s.io/utils/clock"
)

func main() {
	if 1 < len(os.Args) && os.Args[1] == "token" {
		if err := token(os.Args[2:]); err != nil {
			log.Fatal(err)
		}
		return
	}

	port := flag.String("port", "8080", "port to listen")
	scenarioPath := flag.String("scenario", "", "path to scenario file. when updated, it is reloaded")
	secretPath := flag.String("secret-file", "", "file containing the secret to verify bearer tokens. if empty, requests are not authenticated")
	loglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	scenario := orcastub.Default()
	if *scenarioPath != "" {
		s, err := orcastub.LoadScenario(*scenarioPath)
		if err != nil {
			log.Fatalf("can not read scenario: %s", err)
		}
		scenario = s
	}

	options := []orcastub.Option{orcastub.WithLogLevel(*loglevel)}
	if *secretPath != "" {
		secret, err := readSecret(*secretPath)
		if err != nil {
			log.Fatalf("can not read secret: %s", err)
		}
		options = append(options, orcastub.WithSecret(secret))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := orcastub.NewStore(scenario, clock.RealClock{})
	e := orcastub.New(store, options...)

	if *scenarioPath != "" {
		go reloadOnModify(ctx, *scenarioPath, store)
	}

	context.AfterFunc(ctx, func() {
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			log.Printf("error on shutdown: %s", err)
		}
	})

	var err error
	if cert, key := *pcert, *pkey; cert != "" && key != "" {
		err = e.StartTLS(":"+*port, cert, key)
	} else {
		err = e.Start(":" + *port)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.Logger.Fatal(err)
	}
}

// reloadOnModify loads the scenario into store whenever the file is updated, until ctx is done.
func reloadOnModify(ctx context.Context, path string, store *orcastub.Store) {
	for {
		wctx, cancel, err := filewatch.UntilModified(ctx, path)
		if err != nil {
			log.Printf("can not watch scenario (retry in 5s): %s", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}
		<-wctx.Done()
		cancel()
		if ctx.Err() != nil {
			return
		}

		log.Printf("scenario is updated: %s", context.Cause(wctx))
		s, err := orcastub.LoadScenario(path)
		if err != nil {
			log.Printf("scenario is not reloaded: %s", err)
			continue
		}
		store.SetScenario(s)
		log.Printf("scenario is reloaded")
	}
}

func readSecret(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return []byte(s), nil
}

func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	secretPath := fs.String("secret-file", "", "file containing the secret to sign the token")
	application := fs.String("application", "", "application allowed to submit tasks with the token. empty for any")
	ttl := fs.Duration("ttl", 24*time.Hour, "lifetime of the token. 0 for no expiry")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secretPath == "" {
		return errors.New("--secret-file is required")
	}

	secret, err := readSecret(*secretPath)
	if err != nil {
		return err
	}
	tok, err := orcastub.IssueToken(secret, *application, *ttl, clock.RealClock{})
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
