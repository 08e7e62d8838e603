// Package ingest turns a pile of local files into entries and drives them
// through the corpus server's ingestion protocol.
//
// The pieces, leaves first:
//
//   - Expand walks files and directory trees into a flat, sorted candidate list.
//   - Classifier files candidates into Registry entries as transcripts or media,
//     runs InferMetadata once per transcript and asks the Resolver whether the
//     transcript already exists on the server.
//   - Uploader moves entries one at a time through upload, parameter
//     negotiation and server-side processing. Processing polls run per entry in
//     their own goroutines so the next upload can start.
//   - Deleter removes existing transcripts one at a time.
//   - WriteReport renders the final entry states as CSV.
//
// Every mutation goes through the Registry lock. Orchestrators claim an entry
// by setting its Op before any network call, which keeps at most one upload or
// delete in flight per entry.
package ingest
