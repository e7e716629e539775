// Package publish installs build output as the served artifact of an
// application.
//
// Every build is copied to its own release directory
// (<root>/<slug>/releases/<build-id>). Going live is a single rename of the
// <root>/<slug>/current symlink, so readers see either the old or the new
// tree and never a mix. Superseded releases are collected after the swap.
package publish
