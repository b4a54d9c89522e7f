// Package main is the entry point for the testbot worker.
//
// testbot picks up grading jobs for student submissions, runs them in a
// container or as a host script (or checks them for plagiarism and
// required files) and reports the outcome to the master service.
//
// Two commands are available: run executes exactly one job and exits,
// serve consumes jobs from NATS until interrupted. The application uses
// Uber's fx framework for dependency injection and lifecycle management,
// with zap for structured logging, viper for configuration and cobra for
// the command line.
package main
