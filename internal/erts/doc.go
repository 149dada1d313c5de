// Package erts locates runtime installations.
//
// A Locator finds the active installation once per process (explicit root,
// RELPACK_ERTS_ROOT, or the erl executable on PATH) and reports its root,
// runtime version, runtime directory and system library directory.
package erts
