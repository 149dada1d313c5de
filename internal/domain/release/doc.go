// Package release contains the core domain types of a packaging job.
//
// A Release names one versioned application tree on disk together with the
// Profile that decides what goes into its archive. ErtsPolicy replaces the
// "bool or path" runtime switch with a closed set of variants.
package release
