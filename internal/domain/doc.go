// Package domain holds the typed model shared by the marketing automation
// core: contacts, journeys and their steps, enrollments, campaigns, delivery
// records, and the trigger events that connect them.
//
// The package has no dependencies beyond uuid and time. All status fields are
// typed string enums with explicit transition rules; step actions are a
// tagged union so the scheduler can match exhaustively instead of probing
// loosely-typed config maps.
package domain
