// Package scheduler drives journey timing. A clock-driven tick claims due
// enrollments with an atomic conditional update, evaluates each step's
// condition against the contact's engagement with the previous step, executes
// the step action, and advances or exits the enrollment. Multiple worker
// processes may tick concurrently; the claim guarantees each due enrollment
// is processed once, and the delivery pipeline's dedup keys make a crashed
// tick's re-run a no-op.
package scheduler
