package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContext(t *testing.T) {
	logger, err := NewForEnvironment("development")
	require.NoError(t, err)

	ctx := context.Background()
	ctxWithLogger := WithContext(ctx, logger)

	retrievedLogger := FromContext(ctxWithLogger)
	assert.NotNil(t, retrievedLogger)
}

func TestFromContext_NotFound(t *testing.T) {
	ctx := context.Background()
	logger := FromContext(ctx)

	// Should return a no-op logger
	assert.NotNil(t, logger)
}

func TestWithTransactionID(t *testing.T) {
	logger, err := NewForEnvironment("development")
	require.NoError(t, err)

	ctx := context.Background()
	txID := "tx-123"

	newCtx, newLogger := WithTransactionID(ctx, logger, txID)

	assert.NotNil(t, newCtx)
	assert.NotNil(t, newLogger)
	assert.Equal(t, txID, GetTransactionID(newCtx))

	// The enriched logger is also retrievable from the returned context.
	assert.Equal(t, newLogger, FromContext(newCtx))
}

func TestGetTransactionID_NotFound(t *testing.T) {
	assert.Equal(t, "", GetTransactionID(context.Background()))
}
