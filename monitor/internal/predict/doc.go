// Package predict defines the SoH scoring port the pipeline depends on and
// two implementations: a linear coefficient model loaded from an offline
// training artifact, and a remote HTTP scoring service. The Scorer wrapper
// enforces a bounded timeout and maps every collaborator fault to
// ErrUnavailable so one slow prediction can never stall ingestion.
package predict
