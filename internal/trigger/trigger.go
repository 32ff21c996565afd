package trigger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/alarm-keeper/internal/domain/alarm"
	"github.com/oshokin/alarm-keeper/internal/logger"
)

// Once fires a single time at At. After that its Next is the zero time,
// which cron treats as never again.
type Once struct {
	At time.Time
}

// Next implements cron.Schedule.
func (o Once) Next(t time.Time) time.Time {
	if t.Before(o.At) {
		return o.At
	}

	return time.Time{}
}

// Daily fires at First and then at the same wall-clock time every day,
// in First's location.
type Daily struct {
	First time.Time
}

// Next implements cron.Schedule.
func (d Daily) Next(t time.Time) time.Time {
	if t.Before(d.First) {
		return d.First
	}

	// Jump close to t first so a long-lived repeat does not walk every day.
	days := int(t.Sub(d.First) / (24 * time.Hour))
	if days > 1 {
		days--
	}

	next := d.First.AddDate(0, 0, days)
	for !next.After(t) {
		days++
		next = d.First.AddDate(0, 0, days)
	}

	return next
}

// ForSpec returns the schedule for spec, repeating in loc when the spec repeats.
//
//nolint:ireturn // cron.Schedule is the engine's own abstraction.
func ForSpec(spec *alarm.DeliverySpec, loc *time.Location) cron.Schedule {
	at := spec.FireAt()
	if loc != nil {
		at = at.In(loc)
	}

	if spec.RepeatDaily {
		return Daily{First: at}
	}

	return Once{At: at}
}

// NextAfter is the next fire of spec strictly after t, or the zero time.
func NextAfter(spec *alarm.DeliverySpec, loc *time.Location, t time.Time) time.Time {
	return ForSpec(spec, loc).Next(t)
}

// NewEngine builds a stopped cron engine in loc that logs through the logger
// in ctx. Unless verbose, only engine errors such as recovered job panics
// get through.
func NewEngine(ctx context.Context, loc *time.Location, verbose bool) *cron.Cron {
	if loc == nil {
		loc = time.Local
	}

	log := logger.FromContext(ctx).Named("cron")
	if !verbose {
		log = log.WithOptions(logger.WithFloor(zapcore.WarnLevel))
	}

	adapter := cronLogger{log: log}

	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter)),
	)
}

// cronLogger lets cron log through zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

// Info implements cron.Logger.
func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Infow(msg, keysAndValues...)
}

// Error implements cron.Logger.
func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
