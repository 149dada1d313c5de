// Package beam reads and rewrites compiled BEAM module files.
//
// A module file is an IFF container: "FOR1", a big-endian length, the form
// type "BEAM" and a sequence of 4-byte aligned chunks. Stripping keeps the
// chunks the loader needs and drops debug info, documentation and metadata.
package beam
