// Package mysql stores wallet slots in MySQL. Each Update runs inside a
// transaction that locks the namespace rows, and schema changes are applied
// from the embedded migration files.
package mysql
