// Package scheduler computes desired next-run times for the maintenance
// task registry and reconciles the host scheduler against desired state.
//
// The host's scheduling primitive is a collaborator behind the Host
// interface; this package only decides WHAT should be queued WHEN.
package scheduler
