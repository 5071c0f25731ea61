package query

import "errors"

var (
	// ErrUnknownField is returned when a predicate names a field the entity does not have
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownOperator is returned for an unrecognised $operator key
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrInvalidPredicate is returned when a predicate value has the wrong shape
	ErrInvalidPredicate = errors.New("invalid predicate")

	// ErrUnknownRelation is returned when a Related predicate names a missing relationship
	ErrUnknownRelation = errors.New("unknown relation")
)
