// Package stores persists evaluation history in SQLite so past gate
// decisions and their findings can be audited.
package stores
