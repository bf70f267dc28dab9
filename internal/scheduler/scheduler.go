package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job выполняется по расписанию; ошибки только логируются
type Job func(ctx context.Context) error

// Scheduler управляет запланированными задачами
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    logrus.FieldLogger
}

// New создает планировщик, расписания считаются в UTC
func New(log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		ctx:    ctx,
		cancel: cancel,
		log:    log.WithField("component", "scheduler"),
	}
}

// Add регистрирует задачу. Пустое расписание отключает задачу.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.log.WithField("job", name).Info("job disabled: empty schedule")
		return nil
	}
	log := s.log.WithFields(logrus.Fields{"job": name, "schedule": spec})
	_, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		if err := job(s.ctx); err != nil {
			log.WithError(err).Error("scheduled job failed")
			return
		}
		log.WithField("elapsed", time.Since(started).String()).Debug("scheduled job done")
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	log.Info("job scheduled")
	return nil
}

// Start запускает планировщик
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.WithField("jobs", len(s.cron.Entries())).Info("scheduler started")
}

// Stop останавливает планировщик и ждет завершения запущенных задач
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// IsRunning проверяет, есть ли зарегистрированные задачи
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}
