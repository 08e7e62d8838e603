// Package journal persists finished upload and delete runs in SQLite.
//
// Each run records its summary counts and the final state of every entry it
// touched, so a report can be regenerated after the session that produced it
// has exited. The schema is managed through embedded, ordered migrations.
package journal
