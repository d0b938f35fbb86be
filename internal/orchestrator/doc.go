// Package orchestrator runs an agent's tool plan.
//
// A Plan is a short list of steps (at most DefaultMaxSteps are executed) plus a
// stopWhen condition over episode memory. Each step goes through the same
// pipeline: the binder fills missing arguments from memory, the catalog
// validates required arguments, write tools are refused unless the
// orchestrator allows writes, and the tool runs behind the middleware with
// source "chat". Before every step the stop condition is evaluated; once it
// holds the remaining steps are skipped.
//
// Step failures are recorded in the Outcome and do not end the episode.
// Only context cancellation stops a run early with an error.
package orchestrator
