// Package preflight provides readiness checks for the local paths and the
// corpus server that ferry depends on.
//
// The CLI "ferry check" command runs RunAll and renders the results, and
// the upload and delete commands can call the individual checks before
// starting a run.
package preflight
