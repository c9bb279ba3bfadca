package resolve

import (
	"errors"
	"fmt"
	"regexp"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidInput rejects names and relationship types that violate the
// input contract.
var ErrInvalidInput = errors.New("resolve: invalid input")

// maxNameLength bounds incoming names.
const maxNameLength = 1000

var namePattern = regexp.MustCompile(`^[\p{L}\p{N}\s.,&'\-]+$`)

var relationshipTypePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateName enforces the name contract: 1-1000 characters, no control
// characters, and only letters, digits, whitespace, and .,&'- punctuation.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("resolve: name is blank: %w", ErrInvalidInput)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("resolve: name exceeds %d characters: %w", maxNameLength, ErrInvalidInput)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("resolve: name contains control characters: %w", ErrInvalidInput)
		}
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("resolve: name contains forbidden characters: %w", ErrInvalidInput)
	}
	return nil
}

// ValidateRelationshipType enforces the relationship-type contract:
// alphanumeric and underscore only.
func ValidateRelationshipType(relType string) error {
	if relType == "" || !relationshipTypePattern.MatchString(relType) {
		return fmt.Errorf("resolve: relationship type %q must be alphanumeric/underscore: %w", relType, ErrInvalidInput)
	}
	return nil
}
