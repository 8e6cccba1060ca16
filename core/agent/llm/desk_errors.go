package llm

import (
	"errors"
	"fmt"
)

var errMissingConfidence = errors.New("classification response missing confidence")

type invalidLabelError struct {
	label string
}

func (e *invalidLabelError) Error() string {
	return fmt.Sprintf("classification response has invalid label %q", e.label)
}

func errInvalidLabel(label string) error {
	return &invalidLabelError{label: label}
}
