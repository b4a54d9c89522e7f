// Package executor runs one grading job through its lifecycle.
//
// Every job goes through Prepare, Run and CleanUp, driven by Start. Prepare
// reads the submission and test configuration from the master and checks
// them; Run grades the submission; CleanUp uploads the collected artifacts
// and always follows Run, whether it failed or not.
//
// Concrete executors exist for each test configuration type: containers
// built from an environment Dockerfile, host scripts, plagiarism checks and
// file presence checks. Failures are reported as *Error values carrying an
// ErrorKind.
package executor
