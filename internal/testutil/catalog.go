package testutil

import (
	"testing"

	"pgdr-go/internal/catalog"
	"pgdr-go/internal/dr"
)

// NewTestCatalog creates an in-memory catalog with the schema applied.
// The catalog is automatically closed when the test completes.
func NewTestCatalog(t *testing.T) dr.Catalog {
	t.Helper()

	c, err := catalog.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}

	t.Cleanup(func() {
		c.Close()
	})

	return c
}
