package doccache

import "errors"

var (
	// ErrInvalidArgument is returned for unrecognized constructor arguments or invalid options.
	ErrInvalidArgument = errors.New("doccache: invalid argument")

	// ErrSerialization is returned by Write when a value cannot be stored even as a string.
	ErrSerialization = errors.New("doccache: value cannot be serialized")
)
