package restore

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/fleetdock/fleetdock/internal/appdetect"
	"github.com/fleetdock/fleetdock/internal/engine"
	"github.com/fleetdock/fleetdock/internal/errkind"
)

const (
	readinessInterval = time.Second
	readinessAttempts = 30
)

// waitReady polls a database container with an engine-side command
// until one of the declared readiness substrings appears, or gives up
// after readinessAttempts (spec.md §4.8 phase 4). Callers decide
// whether a timeout here is fatal; it always returns ErrReadinessTimeout
// on exhaustion so errkind.Classify can recognize it.
func waitReady(ctx context.Context, eng engine.EngineClient, containerID string, appType appdetect.AppType, env map[string]string) error {
	cmd, substrings := readinessCheck(appType, env)
	if cmd == nil {
		return nil
	}

	for attempt := 0; attempt < readinessAttempts; attempt++ {
		result, err := eng.Exec(ctx, containerID, cmd, nil, nil)
		if err == nil {
			out := strings.ToLower(string(bytes.Join([][]byte{result.Stdout, result.Stderr}, []byte("\n"))))
			for _, s := range substrings {
				if strings.Contains(out, s) {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessInterval):
		}
	}
	return errkind.ErrReadinessTimeout
}

func readinessCheck(appType appdetect.AppType, env map[string]string) ([]string, []string) {
	switch appType {
	case appdetect.Postgres:
		user := env["POSTGRES_USER"]
		if user == "" {
			user = "postgres"
		}
		return []string{"pg_isready", "-U", user}, []string{"accepting"}
	case appdetect.MySQL:
		return []string{"mysqladmin", "ping"}, []string{"alive"}
	case appdetect.Redis:
		return []string{"redis-cli", "ping"}, []string{"pong"}
	default:
		return nil, nil
	}
}
