package domain

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrConflict           = errors.New("conflicting record already indexed")
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	ErrRateLimited        = errors.New("rate limited")
	ErrJobNotFound        = errors.New("broadcast job not found")
)
