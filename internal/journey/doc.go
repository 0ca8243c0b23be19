// Package journey implements the journey registry and the enrollment
// manager.
//
// The registry owns journey definitions and their status machine
// (draft/active/paused/archived). The enrollment manager matches incoming
// trigger events against active journeys' entry triggers and creates
// deduplicated enrollments; it never executes steps itself — execution is
// deferred to the step scheduler so enrollment creation stays cheap and
// retry-safe.
//
// The service layer depends only on the Repository interface and never
// imports net/http or database/sql.
package journey
