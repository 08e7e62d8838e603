// Package labbcat is a small HTTP client for the corpus server's ingestion API.
//
// Every response is wrapped in the server's JSON envelope (title, version,
// code, errors, messages, model); the client unwraps it and turns a non-zero
// code or a non-empty errors list into a *RemoteError. Lookups that the server
// answers with 404 or an empty model return ErrNotFound so callers can treat
// "no such transcript" and "task already gone" as ordinary outcomes.
//
// Read-only requests retry transient failures with exponential backoff. Uploads
// stream multipart bodies through a pipe and report byte progress.
package labbcat
