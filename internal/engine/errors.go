package engine

import "errors"

var (
	ErrUnknownTable        = errors.New("unknown table")
	ErrUnknownColumn       = errors.New("unknown column")
	ErrTypeMismatch        = errors.New("operand does not match column type")
	ErrUnsupportedOperator = errors.New("operator not supported for column type")
	ErrUnknownViewer       = errors.New("unknown contact")
)
