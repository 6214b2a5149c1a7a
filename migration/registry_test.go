package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/qntx-migrate/errors"
	qntxtest "github.com/teranos/qntx-migrate/internal/testing"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("res.partner", "fix", func(ctx context.Context) (any, error) { return 1, nil })
	r.RegisterModel("res.empty")

	fn, err := r.Resolve("res.partner", "fix")
	require.NoError(t, err)
	v, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = r.Resolve("res.unknown", "fix")
	assert.True(t, errors.IsValidationError(err))

	_, err = r.Resolve("res.empty", "fix")
	assert.True(t, errors.IsInvocationError(err))
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRegistryListing(t *testing.T) {
	r := NewRegistry()
	r.Register("b.model", "two", func(ctx context.Context) (any, error) { return nil, nil })
	r.Register("b.model", "one", func(ctx context.Context) (any, error) { return nil, nil })
	r.RegisterModel("a.model")
	r.RegisterModel("a.model")

	assert.Equal(t, []string{"a.model", "b.model"}, r.Models())
	assert.Equal(t, []string{"one", "two"}, r.Functions("b.model"))
	assert.Empty(t, r.Functions("a.model"))
	assert.True(t, r.HasModel("a.model"))
	assert.False(t, r.HasModel("c.model"))
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context) (any, error) { return nil, nil }
	r.Register("m", "f", noop)
	assert.Panics(t, func() { r.Register("m", "f", noop) })
}

func TestSQLiteTargets(t *testing.T) {
	conn := qntxtest.CreateTestDB(t)
	r := NewRegistry()
	RegisterSQLiteTargets(r, conn)

	assert.Equal(t, []string{"analyze", "integrity_check", "optimize", "vacuum"}, r.Functions(SQLiteModel))

	for _, name := range r.Functions(SQLiteModel) {
		t.Run(name, func(t *testing.T) {
			fn, err := r.Resolve(SQLiteModel, name)
			require.NoError(t, err)
			out, err := fn(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "ok", out)
		})
	}
}
