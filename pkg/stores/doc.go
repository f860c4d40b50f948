// Package stores provides the persistent compile store. Compiled text is kept
// in SQLite, keyed by the content hash of the source and its compile options,
// so unchanged files are not recompiled across process restarts. The schema is
// managed by embedded migrations.
package stores
