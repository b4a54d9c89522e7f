// Package logger provides structured logging capabilities.
//
// The logger package sets up the worker's zap logger in either
// development (colored console) or production (JSON) mode, and adapts it
// for fx lifecycle events.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Worker started")
//	logger.Error("Job failed", zap.Error(err))
package logger
