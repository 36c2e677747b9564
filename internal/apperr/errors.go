package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMissingFolderPage = errors.New("folder has no folder page")
	ErrPartialFailure    = errors.New("some pages failed to sync")
)
