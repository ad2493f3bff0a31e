// Package redis keeps wallet slots in a single Redis hash. Updates run as
// WATCH/MULTI optimistic transactions so concurrent writers never interleave.
package redis
