// Package lock implements the PID marker file that keeps two packaging runs
// from writing the same release tree at once.
//
// A marker whose process is gone is stale and reclaimed on the next Acquire.
package lock
