package model

import (
	"errors"
	"fmt"
)

// ErrUnsupported matches every unsupported architecture/dataset/variant request.
var ErrUnsupported = errors.New("unsupported configuration")

// UnsupportedError names the rejected combination.
type UnsupportedError struct {
	Architecture string
	Dataset      string
	Variant      Variant
}

func (e *UnsupportedError) Error() string {
	switch {
	case e.Variant != "":
		return fmt.Sprintf("%s variant is not supported for %s", e.Variant, e.Architecture)
	case e.Dataset != "":
		return fmt.Sprintf("%s is not supported for %s", e.Dataset, e.Architecture)
	default:
		return fmt.Sprintf("%s is not supported", e.Architecture)
	}
}

func (e *UnsupportedError) Unwrap() error {
	return ErrUnsupported
}
