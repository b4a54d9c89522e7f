// Package tag implements the output tagging protocol shared by the sandboxes.
//
// Every job gets a pair of random markers. The grading harness running inside
// the sandbox prints its result on a line prefixed by the result marker and
// its diagnostics on lines prefixed by the error marker, which lets the worker
// tell grading output apart from anything the submission itself prints.
//
// Usage:
//
//	tags := tag.Generate()
//	// ... run the sandbox with RESULT_TAG=tags.Result and ERROR_TAG=tags.Error
//	result, ok := tag.ExtractResult(stdout, tags.Result)
//	errs := tag.ExtractErrors(stderr, tags.Error)
package tag
