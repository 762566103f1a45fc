package archive

import (
	"fmt"
	"net/url"
	"strconv"
)

// UnknownDomain is the dedup key for URLs without a parsable authority.
const UnknownDomain = "unknown"

// IDWidth is the number of digits in the external ID form.
const IDWidth = 8

// ExtractDomain returns the authority component of rawURL, or UnknownDomain
// when it cannot be parsed or is empty. The authority is returned verbatim so
// it matches what the ledger stores.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return UnknownDomain
	}
	return u.Host
}

// FormatID renders a sequence value in its zero-padded external form.
func FormatID(id int) string {
	return fmt.Sprintf("%0*d", IDWidth, id)
}

// ParseID reverses FormatID.
func ParseID(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", id, err)
	}
	return n, nil
}
