/*
Package log provides structured logging for nodeboi using zerolog.

The package wraps zerolog with a global logger initialized once via Init,
component-scoped child loggers, and a handful of shorthand helpers. Console
output is the default for interactive use; JSON output is available for
running under supervisors that collect structured logs.

# Usage

	log.Init(log.Config{Level: log.InfoLevel})

	logger := log.WithComponent("installer")
	logger.Info().Str("instance", "node1").Msg("promoting staged install")

WithInstance tags every event with the instance an operation is acting on,
which is the field operators filter by when several installs have run.
*/
package log
