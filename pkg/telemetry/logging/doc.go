// Package logging builds the process logger.
//
// The logging package wraps Go's standard log/slog package to provide:
//   - JSON and text output selected from configuration
//   - Configurable log levels (debug, info, warn, error)
//   - Redaction of token and key attributes
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger)
//
// Components derive their own logger with a component attribute:
//
//	logger := slog.Default().With("component", "deletion")
package logging
