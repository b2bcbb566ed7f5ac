// Package logging provides structured logging for the launcher using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Components receive a *Logger and derive a named child for their own lines:
//
//	logger := logging.NewDefault().Component("classloader")
//	logger.Info("jar verified", zap.String("url", u), zap.String("signing", "FULL"))
//
// Security decisions (denials, prompts, sandbox ratchets) are always logged at
// info or above so a launch can be audited from the log alone.
package logging
