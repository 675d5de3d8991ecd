// Package logging builds the slog loggers used across vodwatch.
//
// Two output formats are supported: a compact console format for
// interactive use and JSON for log shipping. Components attach a
// standardized "component" attribute so daemon logs can be filtered per
// subsystem.
package logging
