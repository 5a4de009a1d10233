package config

import (
	"s3indexer/internal/tracker"

	"github.com/spf13/pflag"
)

// RegisterFlags adds the run options to flags.
func RegisterFlags(flags *pflag.FlagSet) {
	def := Default()

	flags.String("config-path", def.Run.ConfigPath, "read bucket config (fence config) from here")
	flags.String("state-dir", def.Run.StateDir, "store the tracker database and offset files here")
	flags.String("indexd-creds-path", "", "indexd database credentials (JSON); enables the upload bucket pass")
	flags.String("env-file", "", "load environment variables from this file before reading the config")
	flags.Int("max-attempts", tracker.DefaultMaxAttempts, "attempts allowed per object before it expires")
	flags.IntSlice("attempt-intervals", tracker.DefaultIntervalMinutes, "minutes to wait after the Nth attempt, indexed by attempt count")
	flags.Bool("dry-run", false, "prefix each command with echo")
	flags.Bool("verbose", false, "increase output verbosity")
	flags.String("log-level", def.LogLevel, "log level (debug/info/warn/error)")
	flags.String("list-objects-api", def.Run.ListObjectsAPI, "list_objects or list_objects_v2")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address while running")
	flags.String("metrics-textfile", "", "write prometheus metrics to this file when the run ends")
}
