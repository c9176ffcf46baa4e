package zfscmd

import (
	"context"

	"github.com/zfstools/zfstools/internal/logger"
	"github.com/zfstools/zfstools/internal/logging"
)

type contextKey int

const (
	contextKeyTransferID contextKey = 1 + iota
)

type Logger = logger.Logger

// WithTransferID labels the metrics of all commands started with the returned context.
func WithTransferID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyTransferID, id)
}

func getTransferIDOrDefault(ctx context.Context, def string) string {
	ret, ok := ctx.Value(contextKeyTransferID).(string)
	if !ok {
		return def
	}
	return ret
}

func getLogger(ctx context.Context) Logger {
	return logging.GetLogger(ctx, logging.SubsysZFSCmd)
}
