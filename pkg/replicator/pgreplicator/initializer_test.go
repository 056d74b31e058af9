package pgreplicator

import (
	"context"
	"testing"

	"github.com/bronzelake/pgcap/internal/test"
	"github.com/stretchr/testify/require"
)

func TestNewInitializer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, cfg := test.StartPG(t, ctx, test.StartPGOpts{
		Version:                   16,
		DisableLogicalReplication: true,
		DisableCreateSlot:         true,
	})
	defer c.Stop(ctx, nil)

	t.Run("It succeeds with the right password", func(t *testing.T) {
		cfg := cfg
		cfg.User = "postgres"
		_, err := NewInitializer(ctx, InitializerOpts{
			AdminConfig: cfg,
		})
		require.NoError(t, err)
	})

	t.Run("It errors with the wrong password", func(t *testing.T) {
		cfg := cfg
		cfg.User = "postgres"
		cfg.Password = "whatever my guy"
		_, err := NewInitializer(ctx, InitializerOpts{
			AdminConfig: cfg,
		})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}
