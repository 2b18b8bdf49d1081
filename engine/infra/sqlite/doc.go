// Package sqlite provides the modernc.org/sqlite backed store driver.
//
// The package mirrors the postgres driver layout. Timestamps are stored as
// unix nanoseconds and JSON documents as TEXT.
package sqlite
