// Package workspace allocates the build-scoped working directories that
// sources are fetched into and toolchains run in.
//
// Each build owns <root>/<build-id>. The directory is removed when the build
// reaches a terminal status, and Sweep clears leftovers from a previous
// process at startup and from the periodic janitor.
package workspace
