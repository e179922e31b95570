package storage

import (
	"errors"
	"strings"

	"github.com/scrypster/statline/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreUnavailable indicates the backing database could not serve a query.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DefaultQueryLimit and MaxQueryLimit bound FindContaining result sizes.
const (
	DefaultQueryLimit = 5
	MaxQueryLimit     = 50
)

// EntityQuery scopes a read to one domain.
type EntityQuery struct {
	// Domain is required.
	Domain string

	// Kind restricts the query to teams or players. Empty means both, with
	// teams ordered before players.
	Kind types.EntityKind

	// Text is the lowercase, trimmed query string.
	Text string

	// TeamIDs, when non-nil, restricts player rows to these owning teams.
	// An empty non-nil slice matches no players.
	TeamIDs []string

	// Limit caps FindContaining (default: 5, max: 50).
	Limit int
}

// Normalize validates the query and applies defaults.
func (q *EntityQuery) Normalize() error {
	q.Domain = strings.ToLower(strings.TrimSpace(q.Domain))
	q.Text = types.NormalizeText(q.Text)
	if q.Domain == "" {
		return errors.Join(ErrInvalidInput, errors.New("domain is required"))
	}
	if q.Kind != "" && !q.Kind.IsValid() {
		return errors.Join(ErrInvalidInput, errors.New("invalid kind "+string(q.Kind)))
	}
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	return nil
}

// AliasMatch is an entity found through an alias, with the alias type that matched.
type AliasMatch struct {
	Entity    types.Entity
	AliasType types.AliasType
}

// SurfaceForm is one literal name an entity can be referred to by.
type SurfaceForm struct {
	Text     string
	Kind     types.EntityKind
	EntityID string
}

// LoadStats summarizes a dataset replacement.
type LoadStats struct {
	Domain   string `json:"domain"`
	Entities int    `json:"entities"`
	Aliases  int    `json:"aliases"`
	Stats    int    `json:"stats"`
}

// EscapeLike escapes LIKE metacharacters so user text matches literally.
// The escape character is a backslash; queries must declare ESCAPE '\'.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
