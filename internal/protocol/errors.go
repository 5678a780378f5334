package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("protocol: validation failed")
	ErrProtocol           = errors.New("protocol: malformed event body")
	ErrMetadataAlreadySet = errors.New("protocol: metadata already set")
)

// Require returns value unchanged when it is non-empty.
func Require(name string, value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: missing %s", ErrValidation, name)
	}
	return value, nil
}
