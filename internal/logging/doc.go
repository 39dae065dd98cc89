// Package logging provides structured logging for Klaus runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation. Each interactive session writes to a single
// klaus.log file; child loggers carry the run id, workflow kind and phase
// name so a single workflow run can be filtered out after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(".klaus/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLog := logger.WithRun(runID).WithWorkflow("sink")
//	runLog.WithPhase("schema").Info("analysis approved", "topic", topicID)
//
// Credential values marked as secret must never be passed to a Logger.
//
// All types in this package are safe for concurrent use.
package logging
