// Package services defines the shared error taxonomy for external
// collaborators. Callers classify failures with errors.Is against the
// exported sentinels rather than inspecting transport details.
package services
