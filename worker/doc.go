// Package worker turns dispatched job references into executor runs and
// reports every outcome to the master.
//
// The Registry maps job kinds to executor factories. The Adapter looks up
// the factory, runs the executor through executor.Start and always sends a
// final report, including for unknown kinds and panics.
package worker
