package content

import (
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	namePolicy  = bluemonday.StrictPolicy()
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9.-]+$`)
)

// MessageBody normalizes a message body. Bodies are plain text and are
// stored as sent apart from surrounding whitespace; clients must not render
// them as HTML.
func MessageBody(input string) string {
	return strings.TrimSpace(input)
}

// DisplayName strips all markup from a user supplied name.
func DisplayName(input string) string {
	return strings.TrimSpace(html.UnescapeString(namePolicy.Sanitize(input)))
}

// ValidateUserID checks that a user id is not empty and contains only
// alphanumerics, dots and dashes. The underscore is reserved as the
// conversation id separator.
func ValidateUserID(userID string) error {
	if userID == "" {
		return errors.New("user id cannot be empty")
	}
	if !userIDRegex.MatchString(userID) {
		return errors.New("user id contains invalid characters (allowed: alphanumeric, dot, dash)")
	}
	return nil
}
