// Package api serves the wallet over HTTP: wallet setup and reveal, network
// selection, read-only market queries and asynchronous actions backed by the
// task package. Errors are reported with their classified kind.
package api
