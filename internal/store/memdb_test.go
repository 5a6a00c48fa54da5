package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemConflictFromInterleavedScope(t *testing.T) {
	s := newMem(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProduct(ctx, shirt()))

	err := s.RunAtomic(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.ReadProduct(ctx, "", "P-TSHIRT")
		if err != nil {
			return err
		}
		// another terminal settles in between
		if err := s.RunAtomic(ctx, func(ctx context.Context, other Tx) error {
			return decrement(ctx, other, "P-TSHIRT", "V-M", 1)
		}); err != nil {
			return err
		}
		p.Variants[0].Quantity--
		return tx.WriteProduct(p)
	})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetProduct(ctx, "P-TSHIRT")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Variants[0].Quantity)
	assert.Equal(t, 2, got.Variants[1].Quantity)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemReturnedProductsAreCopies(t *testing.T) {
	s := newMem(t)
	ctx := context.Background()
	require.NoError(t, s.CreateProduct(ctx, shirt()))

	p, err := s.GetProduct(ctx, "P-TSHIRT")
	require.NoError(t, err)
	p.Variants[0].Quantity = 0

	again, err := s.GetProduct(ctx, "P-TSHIRT")
	require.NoError(t, err)
	assert.Equal(t, 5, again.Variants[0].Quantity)
}
