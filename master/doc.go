// Package master holds the data model shared with the master service and the
// HTTP client the worker uses to talk to it.
//
// The master owns submissions, test configurations and grading environments.
// The worker reads a snapshot of them once per job, downloads the files it
// needs with an MD5 integrity check, and reports progress, output files and
// the final outcome back, always keyed by the job reference.
package master
