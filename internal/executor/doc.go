// Package executor is the gateway between MCP tools and the browser
// driver. It owns the execution policy: sessions must be active before
// the driver is touched, deadlines are enforced by a supervising timer
// independent of the driver, transient driver failures are retried with
// backoff, and executions serialize per user while different users run
// in parallel.
//
// The gateway reports three terminal statuses. SUCCESS and ERROR come
// from the cell itself; TIMEOUT means the deadline elapsed and the
// driver call was abandoned. An abandoned call's eventual return is
// discarded, because the user's code may still be running in the
// runtime.
package executor
