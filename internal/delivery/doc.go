// Package delivery implements the idempotent send pipeline: it turns a send
// action into one delivery record per recipient, renders merge fields,
// calls the mailer capability, and ingests provider callbacks with strictly
// forward status transitions.
//
// Idempotency is keyed on the dedup key: a record that already exists for a
// key makes re-dispatch a success-no-op, which is what lets the scheduler
// retry ticks safely.
package delivery
