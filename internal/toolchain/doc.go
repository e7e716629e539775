// Package toolchain runs the ordered external build steps against a fetched
// working copy and streams their output line by line.
package toolchain
