package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"report-checker/internal/analytics"
	"report-checker/internal/storage"
)

// Sweeper удаляет завершенные сессии, возвращает сколько удалено
type Sweeper interface {
	Sweep() int
}

// SweepJob чистит реестр от неактивных сессий
func SweepJob(r Sweeper, log logrus.FieldLogger) Job {
	return func(context.Context) error {
		if n := r.Sweep(); n > 0 {
			log.WithField("removed", n).Info("swept finished sessions")
		}
		return nil
	}
}

// DailyReportJob отправляет админу статистику проверок за текущий день (UTC)
func DailyReportJob(rec storage.Recorder, send func(ctx context.Context, text string) error, format string, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		events, err := rec.LoadChecks()
		if err != nil {
			return fmt.Errorf("load checks: %w", err)
		}
		stats := analytics.AnalyzeDay(events, now().UTC())
		return send(ctx, stats.Summary(format))
	}
}
