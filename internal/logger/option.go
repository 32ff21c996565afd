package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// floorCore drops entries below floor while still honouring the wrapped core's level.
type floorCore struct {
	zapcore.Core

	// floor is the lowest level let through.
	floor zapcore.Level
}

// Enabled reports whether both the floor and the wrapped core accept l.
func (c *floorCore) Enabled(l zapcore.Level) bool {
	return l >= c.floor && c.Core.Enabled(l)
}

// Check adds this core to ce when the entry passes the floor.
//
//nolint:gocritic // zapcore.Core fixes the signature.
func (c *floorCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}

	return ce.AddCore(ent, c)
}

// With keeps the floor on derived cores.
//
//nolint:ireturn // zapcore.Core fixes the signature.
func (c *floorCore) With(fields []zapcore.Field) zapcore.Core {
	return &floorCore{
		Core:  c.Core.With(fields),
		floor: c.floor,
	}
}

// WithFloor returns an option that silences entries below lvl.
// Used for chatty third-party components such as the cron engine.
//
//nolint:ireturn // zap.Option is an interface by design of zap.
func WithFloor(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &floorCore{Core: core, floor: lvl}
	})
}
