// Package stripper removes debug chunks from the compiled modules of an
// extracted release tree, when the release policy allows it.
package stripper
