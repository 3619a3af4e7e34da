// Package hooks delivers best-effort notifications about record mutations.
//
// The CRUD pipeline enqueues one Event per create, write or unlink after the
// operation succeeded. Handlers run later on the goroutine that drives the
// Dispatcher, either the Run loop or an explicit Drain. A failing handler is
// logged and never affects the mutation that produced the event, nor the
// remaining handlers.
package hooks
