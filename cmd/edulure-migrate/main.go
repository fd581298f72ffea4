// Package main applies or rolls back database migrations and exits.
//
// Usage:
//
//	edulure-migrate [flags] [up|down]
//
// "up" (the default) connects with migrations enabled. "down" rolls back the
// most recent migration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/orbas1/edulure/app"
	"github.com/orbas1/edulure/database"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Migration failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	direction, args, err := splitDirection(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := app.Start(ctx, app.Process{
		Name:    "migrate",
		Migrate: direction == "up",
		NoInfra: true,
		NoProbe: true,
	}, args)
	if errors.Is(err, app.ErrExit) {
		return nil
	}
	if err != nil {
		return err
	}
	defer a.Shutdown("migrations-complete")

	if direction == "down" {
		version, err := database.Rollback(ctx, a.Database().DB(), a.Config.Database.MigrationsTable)
		if err != nil {
			return err
		}
		a.Logger.Info("Rolled back migration", "schemaVersion", version)
		return nil
	}

	state, _ := a.Runtime.Readiness().Component(database.Component)
	a.Logger.Info("Migrations applied", "schemaVersion", state.Details["schemaVersion"])
	return nil
}

// splitDirection takes a trailing up or down argument off args
func splitDirection(args []string) (string, []string, error) {
	if len(args) == 0 {
		return "up", args, nil
	}
	switch last := args[len(args)-1]; last {
	case "up", "down":
		return last, args[:len(args)-1], nil
	default:
		if !strings.HasPrefix(last, "-") && (len(args) < 2 || !strings.HasPrefix(args[len(args)-2], "-")) {
			return "", nil, fmt.Errorf("unknown migration direction %q (want up or down)", last)
		}
		return "up", args, nil
	}
}
