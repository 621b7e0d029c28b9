// Package stores persists pathguard history in SQLite.
// It records the intents that were loaded, every configuration push and
// its outcome, and the failover event log. Schema changes are applied with
// embedded golang-migrate migrations.
package stores
