package changeset

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOperationToEventVerb(t *testing.T) {
	require.Equal(t, "tx-began", Operation(OperationBegin).ToEventVerb())
	require.Equal(t, "tx-committed", Operation(OperationCommit).ToEventVerb())
	require.Equal(t, "inserted", Operation(OperationInsert).ToEventVerb())
	require.Equal(t, "updated", Operation(OperationUpdate).ToEventVerb())
	require.Equal(t, "deleted", Operation(OperationDelete).ToEventVerb())
	require.Equal(t, "truncated", Operation(OperationTruncate).ToEventVerb())
}

func TestPublicationOperationsAllows(t *testing.T) {
	ops := PublicationOperations{Insert: true, Delete: true}

	require.True(t, ops.Allows(OperationInsert))
	require.False(t, ops.Allows(OperationUpdate))
	require.True(t, ops.Allows(OperationDelete))
	require.False(t, ops.Allows(OperationTruncate))

	// Transaction delimiters are always forwarded.
	require.True(t, ops.Allows(OperationBegin))
	require.True(t, ops.Allows(OperationCommit))
}
