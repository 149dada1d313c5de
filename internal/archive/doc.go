// Package archive implements the tar codec used to build and unpack release
// archives.
//
// Archives are ordered lists of entries mapping an archive path to a file or
// directory on disk. They are optionally gzip-compressed and can either keep
// symlinks or replace them with the content they point to.
package archive
