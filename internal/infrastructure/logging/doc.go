// Package logging provides structured logging for the script runner.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("configuring script", "script", name, "index", index)
//
// Scripts never receive a raw *slog.Logger; the host hands them a child
// logger created with With and Forward so their records reach the script
// log topic as well as the process output.
package logging
