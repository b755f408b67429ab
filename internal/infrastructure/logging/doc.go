// Package logging provides structured logging for Portal Bridge.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and the same level and format handling.
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("discovery").Info("pass complete", "devices", 42)
//
// # Security
//
// Portal passwords and session ids are never logged in clear. Use Redact:
//
//	logger.Debug("session acquired", "session_id", logging.Redact(id))
package logging
