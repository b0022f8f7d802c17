package pool

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/lmittmann/tint"
	"github.com/pitabwire/util"
)

const (
	tintAttrCodeDuration = 214
	tintAttrCodeRows     = 12
	tintAttrCodeQuery    = 2
)

// queryLogger reports executed SQL. Errors always log; otherwise output
// depends on the log level, the LogQueries option and the slow-query
// threshold.
type queryLogger struct {
	baseLogger    *util.LogEntry // cloned per query to avoid attribute accumulation
	logQueries    bool
	slowThreshold time.Duration
}

func newQueryLogger(ctx context.Context, logQueries bool, slowThreshold time.Duration) *queryLogger {
	return &queryLogger{
		baseLogger:    util.Log(ctx),
		logQueries:    logQueries,
		slowThreshold: slowThreshold,
	}
}

func (l *queryLogger) observe(ctx context.Context, began time.Time, sql string, rows int64, err error) {
	elapsed := time.Since(began)
	baseLog := l.baseLogger.WithContext(ctx)

	queryIsSlow := elapsed > l.slowThreshold && l.slowThreshold != 0
	shouldLog := err != nil ||
		baseLog.Enabled(ctx, slog.LevelDebug) ||
		(baseLog.Enabled(ctx, slog.LevelInfo) && l.logQueries) ||
		(baseLog.Enabled(ctx, slog.LevelWarn) && queryIsSlow)

	if !shouldLog {
		return
	}

	log := baseLog.
		With(
			tint.Attr(tintAttrCodeDuration, slog.Any("duration", elapsed.String())),
			tint.Attr(tintAttrCodeRows, slog.Any("rows", strconv.FormatInt(rows, 10))),
			tint.Attr(tintAttrCodeQuery, slog.Any("query", sql)),
		)
	defer log.Release()

	if queryIsSlow {
		log = log.WithField("SLOW Query", fmt.Sprintf(" >= %v", l.slowThreshold))
	}

	if err != nil {
		log.WithError(err).Error("error running query")
		return
	}

	if log.Enabled(ctx, slog.LevelDebug) {
		log.Debug("query executed")
		return
	}

	if log.Enabled(ctx, slog.LevelInfo) {
		if l.logQueries {
			log.Info("query executed")
		}
		return
	}

	if queryIsSlow && log.Enabled(ctx, slog.LevelWarn) {
		log.Warn("query is slow")
	}
}
