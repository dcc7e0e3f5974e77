package logger

import (
	"context"

	"go.uber.org/zap"
)

// contextKey is a type for context keys used by the logger package
type contextKey string

const (
	// LoggerKey is the context key for the logger
	LoggerKey contextKey = "logger"
	// TransactionIDKey is the context key for the engine transaction ID
	TransactionIDKey contextKey = "transaction_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context, returns a no-op logger if
// not found
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithTransactionID adds the transaction ID to the context and returns the
// enriched logger
func WithTransactionID(ctx context.Context, logger *zap.Logger, txID string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, TransactionIDKey, txID)
	enriched := logger.With(zap.String("transaction_id", txID))
	return WithContext(ctx, enriched), enriched
}

// GetTransactionID retrieves the transaction ID from context
func GetTransactionID(ctx context.Context) string {
	if id, ok := ctx.Value(TransactionIDKey).(string); ok {
		return id
	}
	return ""
}
