// Package logging decorates a storage backend with structured diagnostics.
package logging

import (
	"context"
	"time"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/storage"
	"pkt.systems/guestbookd/internal/svcfields"
	"pkt.systems/pslog"
)

type backend struct {
	inner  storage.Backend
	logger pslog.Logger
}

// Wrap decorates inner with trace/debug logging under the given subsystem.
func Wrap(inner storage.Backend, logger pslog.Logger, sys string) storage.Backend {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &backend{inner: inner, logger: svcfields.WithSubsystem(logger, sys)}
}

func (b *backend) loggerFor(ctx context.Context) pslog.Logger {
	if ctxLogger := pslog.LoggerFromContext(ctx); ctxLogger != nil {
		return ctxLogger
	}
	return b.logger
}

func (b *backend) Load(ctx context.Context) ([]api.Entry, error) {
	logger := b.loggerFor(ctx)
	begin := time.Now()
	logger.Trace("storage.load.begin")
	entries, err := b.inner.Load(ctx)
	if err != nil {
		logger.Debug("storage.load.error", "error", err, "elapsed", time.Since(begin))
		return nil, err
	}
	logger.Trace("storage.load.done", "entries", len(entries), "elapsed", time.Since(begin))
	return entries, nil
}

func (b *backend) Save(ctx context.Context, entries []api.Entry) error {
	logger := b.loggerFor(ctx)
	begin := time.Now()
	logger.Trace("storage.save.begin", "entries", len(entries))
	if err := b.inner.Save(ctx, entries); err != nil {
		logger.Debug("storage.save.error", "error", err, "elapsed", time.Since(begin))
		return err
	}
	logger.Trace("storage.save.done", "entries", len(entries), "elapsed", time.Since(begin))
	return nil
}

func (b *backend) Close() error {
	if err := b.inner.Close(); err != nil {
		b.logger.Debug("storage.close.error", "error", err)
		return err
	}
	return nil
}
