package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the entity tables.
// It lives in the postgres package (not the _test package) so it can reach
// the unexported db field; it is exported so postgres_test can call it.
func (s *EntityStore) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE entity_stats, aliases, entities")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate entity tables: %w", err)
	}
	return nil
}
