package models

import "github.com/uptrace/bun"

// DerivationCounter holds the next key-derivation index per asset family.
// Indices are handed out through an atomic increment and are never reused,
// even when the invoice they were minted for is deleted later.
type DerivationCounter struct {
	bun.BaseModel `bun:"table:derivation_counters"`

	Family string `bun:",pk"`
	N      uint64 `bun:",notnull,default:0"`
}
