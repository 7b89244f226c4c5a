// Package stores provides the persistence layer for the toolkit.
//
// A single SQLite database is the system of record for discovered
// resources, their dependency edges, and operation execution state. All
// components share one Store instance handed to them at construction;
// nothing queries the database directly. Multi-statement mutations run in
// short explicit transactions so concurrent toolkit processes sharing the
// file never observe partial writes. Lock contention surfaces as a
// retryable error, handled internally with bounded retries.
package stores
