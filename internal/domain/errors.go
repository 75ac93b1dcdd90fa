package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrNoResult = errors.New("job has no result to validate")
)
