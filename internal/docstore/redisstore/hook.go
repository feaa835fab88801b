package redisstore

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type loggerHook struct {
	logger *zap.Logger
}

func (h *loggerHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Error("redis dial failed", zap.String("addr", addr), zap.Error(err))
		} else {
			h.logger.Debug("redis dialed", zap.String("addr", addr))
		}
		return conn, err
	}
}

func (h *loggerHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.log("redis command", cmd, time.Since(start), err)
		return err
	}
}

func (h *loggerHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		elapsed := time.Since(start)
		for _, cmd := range cmds {
			h.log("redis pipeline command", cmd, elapsed, cmd.Err())
		}
		return err
	}
}

func (h *loggerHook) log(msg string, cmd redis.Cmder, elapsed time.Duration, err error) {
	if cmd.Name() == "ping" && err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("command", cmd.Name()),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	// Nil replies and aborted EXECs are expected outcomes, not failures.
	if err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, redis.TxFailedErr) {
		h.logger.Error(msg+" failed", append(fields, zap.Error(err))...)
		return
	}
	h.logger.Debug(msg, fields...)
}
