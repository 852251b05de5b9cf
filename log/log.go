package log

import (
	"context"

	"go.uber.org/zap"
)

// carrier keeps s as the sugared form of l.
type carrier struct {
	context.Context

	l *zap.Logger
	s *zap.SugaredLogger
}

type carrierKey struct{}

func (c *carrier) Value(k any) any {
	if k == (carrierKey{}) {
		return c
	}

	return c.Context.Value(k)
}

func attach(parent context.Context, l *zap.Logger) context.Context {
	return &carrier{Context: parent, l: l, s: l.Sugar()}
}

// from also finds a carrier hidden below contexts derived by other packages.
func from(ctx context.Context) *carrier {
	if c, ok := ctx.(*carrier); ok {
		return c
	}

	c, _ := ctx.Value(carrierKey{}).(*carrier)
	return c
}

func WithLogger(parent context.Context, logger *zap.Logger) context.Context {
	return attach(parent, logger)
}

// L falls back to the zap global logger.
func L(ctx context.Context) *zap.Logger {
	if c := from(ctx); c != nil {
		return c.l
	}

	return zap.L()
}

func S(ctx context.Context) *zap.SugaredLogger {
	if c := from(ctx); c != nil {
		return c.s
	}

	return zap.S()
}

func With(ctx context.Context, fields ...zap.Field) context.Context {
	return attach(ctx, L(ctx).With(fields...))
}

func SWith(ctx context.Context, args ...any) context.Context {
	return attach(ctx, S(ctx).With(args...).Desugar())
}

func Nop() context.Context {
	return WithLogger(context.Background(), zap.NewNop())
}
