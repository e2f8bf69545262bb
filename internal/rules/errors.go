package rules

import "errors"

var (
	ErrNotFound    = errors.New("rule not found")
	ErrInvalidRule = errors.New("invalid rule")
	ErrNotPending  = errors.New("rule is not an analysis proposal")
)
