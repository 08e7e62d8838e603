// Package logs reads ferry's daily JSON log files.
//
// Tail streams a log file with bounded memory, supports negative offsets for
// "last N lines" reads and follow-mode polling, and can restrict output to the
// lines of a single run. Parse and Format turn the JSON records back into
// readable lines for `ferry logs`.
package logs
