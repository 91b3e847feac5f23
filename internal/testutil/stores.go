package testutil

import (
	"pgdr-go/internal/dr"
	"pgdr-go/internal/store"
)

// NewTestReplica creates an in-memory artifact store for the given tier.
func NewTestReplica(tier dr.Tier) *store.Memory {
	return store.NewMemory(tier)
}
