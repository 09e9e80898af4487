// Command delphi runs the forecasting engine.
//
// With a question argument it runs one forecast and prints the result as
// JSON; without arguments it serves the MCP protocol over stdin/stdout.
//
//	delphi "Will Brent crude close above $90 before July?"
//	delphi                  # MCP stdio server
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/solstice-ai/delphi"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("DELPHI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Logs go to stderr: stdout belongs to the MCP transport and to the
	// forecast result.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	eng, err := delphi.New(
		delphi.WithLogger(logger),
		delphi.WithVersion(version),
	)
	if err != nil {
		return err
	}

	if len(os.Args) > 1 {
		return forecastOnce(ctx, eng, strings.Join(os.Args[1:], " "))
	}

	logger.Info("serving MCP over stdio")
	return eng.ServeMCP(ctx)
}

func forecastOnce(ctx context.Context, eng *delphi.Engine, question string) error {
	result, err := eng.Forecast(ctx, question)
	if errors.Is(err, delphi.ErrInsufficientPanel) {
		slog.Error("panel could not form a consensus",
			"declined", len(result.Declined),
			"failed", result.FailedAgents)
	} else if err != nil {
		_ = eng.Shutdown(context.Background())
		return err
	}

	out, marshalErr := json.MarshalIndent(result, "", "  ")
	if marshalErr != nil {
		_ = eng.Shutdown(context.Background())
		return fmt.Errorf("encode result: %w", marshalErr)
	}
	fmt.Println(string(out))

	if shutdownErr := eng.Shutdown(context.Background()); shutdownErr != nil {
		return shutdownErr
	}
	return err
}
