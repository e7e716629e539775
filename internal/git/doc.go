// Package git fetches application sources into build-scoped workspaces.
//
// A Fetcher clones one branch (or a pinned commit on that branch) with go-git,
// applies a per-attempt timeout and retries only failures classified as
// SourceTimeout. Clone credentials are resolved per fetch through an
// identity.CredentialSource and are never written to disk.
package git
