// Package stores persists convergence runs, their activation journals,
// the event log and cached node facts in SQLite. The schema is applied
// with embedded golang-migrate migrations.
package stores
