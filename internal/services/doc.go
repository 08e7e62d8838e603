// Package services defines shared utilities consumed by the ingestion
// orchestrators and the corpus server client.
//
// Key responsibilities:
//   - Context helpers that stamp entry IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep per-entry
//     failure messages consistent across upload, parameter, processing, and
//     delete steps.
//
// Use these helpers when wiring new orchestration steps so operational
// behaviour (error messages, observability) stays uniform.
package services
