// Package stores persists login attempts and their state transitions in
// SQLite. Schema changes ship as embedded golang-migrate migrations.
package stores
