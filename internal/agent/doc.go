// Package agent contains the action orchestrator. Every financial action runs
// the same pipeline: validate, resolve tokens, convert amounts, invoke the
// protocol adapter, await confirmation and normalize the outcome. Failures
// leave the package classified; nothing is retried automatically.
package agent
