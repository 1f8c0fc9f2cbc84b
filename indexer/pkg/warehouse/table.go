package warehouse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TableRef names a table within a schema. Both parts are lowercase and
// validated identifiers.
type TableRef struct {
	Schema string
	Name   string
}

func (t TableRef) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ParseTableRef splits "schema.table" or "table" into a TableRef, using
// defaultSchema when no schema is given. Each part must be a plain
// identifier no longer than maxLen.
func ParseTableRef(name, defaultSchema string, maxLen int) (TableRef, error) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	var ref TableRef
	switch len(parts) {
	case 1:
		ref = TableRef{Schema: defaultSchema, Name: parts[0]}
	case 2:
		ref = TableRef{Schema: parts[0], Name: parts[1]}
	default:
		return TableRef{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	ref.Schema = strings.ToLower(ref.Schema)
	ref.Name = strings.ToLower(ref.Name)
	if len(parts) == 2 || ref.Schema != "" {
		if err := ValidateIdentifier(ref.Schema, maxLen); err != nil {
			return TableRef{}, err
		}
	}
	if err := ValidateIdentifier(ref.Name, maxLen); err != nil {
		return TableRef{}, err
	}
	return ref, nil
}

// ValidateIdentifier checks that s is a plain SQL identifier that fits in
// maxLen bytes. A non-positive maxLen disables the length check.
func ValidateIdentifier(s string, maxLen int) error {
	if !identifierRE.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	if maxLen > 0 && len(s) > maxLen {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidIdentifier, s, maxLen)
	}
	return nil
}

const (
	stagingInfix    = "_staging_"
	stagingTokenLen = 12
)

// StagingRef returns a per-call staging table next to target, named
// <table>_staging_<token>. The table part is truncated to fit maxLen.
func StagingRef(target TableRef, maxLen int) TableRef {
	token := strings.ReplaceAll(uuid.New().String(), "-", "")[:stagingTokenLen]
	return TableRef{Schema: target.Schema, Name: stagingPrefix(target.Name, maxLen) + token}
}

// stagingPrefix is the part of a staging name before the token.
func stagingPrefix(target string, maxLen int) string {
	base := target
	if maxLen > 0 {
		if room := maxLen - len(stagingInfix) - stagingTokenLen; len(base) > room {
			base = base[:room]
		}
	}
	return base + stagingInfix
}

// IsStagingName reports whether name is a staging table StagingRef would
// create for target under the same maxLen.
func IsStagingName(target, name string, maxLen int) bool {
	token, ok := strings.CutPrefix(name, stagingPrefix(target, maxLen))
	if !ok || len(token) != stagingTokenLen {
		return false
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// validateColumns checks every column name as an identifier.
func validateColumns(names []string, maxLen int) error {
	for _, n := range names {
		if err := ValidateIdentifier(n, maxLen); err != nil {
			return fmt.Errorf("column: %w", err)
		}
	}
	return nil
}
