package store

import (
	ferrors "git.home.luguber.info/inful/webship/internal/foundation/errors"
)

var (
	// ErrBuildTerminal is returned when a log line or progress update targets a
	// build that already reached a terminal status.
	ErrBuildTerminal = ferrors.StoreError("build is in a terminal status").Build()

	// ErrArtifactRequired is returned for a Succeeded transition without an artifact.
	ErrArtifactRequired = ferrors.InternalError("succeeded transition requires an artifact path").Build()
)

func appNotFound(id string) error {
	return ferrors.ApplicationNotFound("application not found").WithContext("app_id", id).Build()
}

func buildNotFound(id string) error {
	return ferrors.BuildNotFound("build not found").WithContext("build_id", id).Build()
}

func wrapDB(err error, message string) error {
	return ferrors.WrapError(err, ferrors.CategoryStore, message).Build()
}

// describe renders err for the build's user-visible error column.
func describe(err error) string {
	if c, ok := ferrors.AsClassified(err); ok {
		if c.Cause() != nil {
			return c.Message() + ": " + c.Cause().Error()
		}
		return c.Message()
	}
	return err.Error()
}
