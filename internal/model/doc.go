// Package model defines the persisted coordination entities: work items,
// agents, and audit log entries, together with their status state machines.
// JSON field names are the on-disk wire contract and must not change.
package model
