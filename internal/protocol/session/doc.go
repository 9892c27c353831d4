// Package session owns the send/acknowledge timing contract with firmware.
//
// Ownership boundary:
// - time-unit budgets shared by dispatch, discovery, and recovery
// - echo matching with escalating soft deadlines and hard overrides
package session
