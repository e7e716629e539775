// Package identity supplies short-lived clone credentials for application
// repositories. Credentials are resolved per fetch and never persisted.
package identity
