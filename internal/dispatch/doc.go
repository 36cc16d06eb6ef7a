// Package dispatch runs a worker's task handler under a deadline.
//
// A dispatched handler runs in its own goroutine and races a timer. When the
// timer wins the dispatcher stops waiting and reports TASK_TIMEOUT, but the
// handler is not forcibly stopped: its context is cancelled as a signal and
// its eventual result is discarded. A handler that ignores its context keeps
// running until it returns on its own, which is a known goroutine leak risk.
package dispatch
