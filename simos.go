// Package simos contains core domain types and interfaces shared by the
// simulated kernel components (file system, memory and processes) and the
// shell that drives them.
package simos

// PID identifies a simulated process. Assigned monotonically starting at 1;
// 0 is never a valid pid.
type PID uint32

// Handle references a live memory allocation. 0 means "no allocation".
type Handle uint64
