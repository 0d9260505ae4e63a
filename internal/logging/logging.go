// Package logging sets up the module-wide leveled logger used by every
// other package in this core.
package logging

import (
	"os"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("astrobox")

var stderrFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.6s} ▶ %{shortfunc} ▶ %{message}`,
)

// Setup configures the shared logger, honoring ASTROBOX_LOG_LEVEL if set,
// falling back to defaultLevel.
func Setup(prefix string, defaultLevel logging.Level) *logging.Logger {
	backend := logging.NewLogBackend(os.Stderr, prefix, 0)
	logging.SetFormatter(stderrFormat)

	leveled := logging.AddModuleLevel(backend)
	switch os.Getenv("ASTROBOX_LOG_LEVEL") {
	case "CRITICAL":
		leveled.SetLevel(logging.CRITICAL, log.Module)
	case "ERROR":
		leveled.SetLevel(logging.ERROR, log.Module)
	case "WARNING":
		leveled.SetLevel(logging.WARNING, log.Module)
	case "NOTICE":
		leveled.SetLevel(logging.NOTICE, log.Module)
	case "INFO":
		leveled.SetLevel(logging.INFO, log.Module)
	case "DEBUG":
		leveled.SetLevel(logging.DEBUG, log.Module)
	default:
		leveled.SetLevel(defaultLevel, log.Module)
	}
	logging.SetBackend(leveled)
	return log
}

// Get returns the shared logger. Safe to call before Setup; it will log at
// the library default level until Setup runs.
func Get() *logging.Logger {
	return log
}
