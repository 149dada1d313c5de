// Package archiver turns an assembled release tree into its distributable
// archive.
//
// Archive runs four stages in order and stops at the first failure: the
// pre-package hook, the initial archive build, the reshape into the final
// layout and the post-package hook. The reshape extracts the initial archive
// into a scratch directory, optionally strips debug info from the modules and
// rebuilds the archive with the fixed release files, the selected libraries,
// the runtime and the overlays.
package archiver
