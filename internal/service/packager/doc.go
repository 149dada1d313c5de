// Package packager is the entry point of the relpack command.
//
// It loads the job file, serializes runs on the release output directory,
// drives the archiver and writes a release description (size, member count
// and blake3 digest) next to the finished archive.
package packager
