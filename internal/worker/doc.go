// Package worker defines the contract every task-performing agent implements,
// together with the task, result and metrics types that flow between the
// registry, the dispatcher and the coordination pipeline.
package worker
