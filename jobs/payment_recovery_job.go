package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	config "github.com/reactfasttraining/course_booking/configs"
	"github.com/reactfasttraining/course_booking/metrics"
	"github.com/reactfasttraining/course_booking/models"
	"github.com/reactfasttraining/course_booking/payments"
	"github.com/reactfasttraining/course_booking/services"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrRecoveryRunning = errors.New("payment recovery already running")

// BreakerStatus is the part of the circuit breaker the job consults before
// touching the gateway.
type BreakerStatus interface {
	Allowing() bool
}

type RecoveryReport struct {
	Skipped      bool `json:"skipped"`
	Aborted      bool `json:"aborted"`
	Checked      int  `json:"checked"`
	Confirmed    int  `json:"confirmed"`
	Failed       int  `json:"failed"`
	StillPending int  `json:"still_pending"`
	Deferred     int  `json:"deferred"`
	Errors       int  `json:"errors"`
}

// PaymentRecoveryJob finds payments the gateway never reported back on and
// asks the gateway for their status.
type PaymentRecoveryJob struct {
	db         *gorm.DB
	gateway    payments.Gateway
	breaker    BreakerStatus
	reconciler *services.PaymentReconciler
	cfg        config.Recovery
	log        logrus.FieldLogger
	now        func() time.Time

	running atomic.Bool
}

func NewPaymentRecoveryJob(
	db *gorm.DB,
	gateway payments.Gateway,
	breaker BreakerStatus,
	reconciler *services.PaymentReconciler,
	cfg config.Recovery,
	log logrus.FieldLogger,
) *PaymentRecoveryJob {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	return &PaymentRecoveryJob{
		db:         db,
		gateway:    gateway,
		breaker:    breaker,
		reconciler: reconciler,
		cfg:        cfg,
		log:        log.WithField("job", "payment_recovery"),
		now:        time.Now,
	}
}

// Run implements cron.Job.
func (j *PaymentRecoveryJob) Run() {
	ctx := context.Background()
	if j.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.cfg.RunTimeout)
		defer cancel()
	}

	if _, err := j.RunOnce(ctx); err != nil && !errors.Is(err, ErrRecoveryRunning) {
		j.log.WithError(err).Error("🔥 Payment recovery run failed")
	}
}

// RunOnce performs a single recovery pass. Overlapping calls return
// ErrRecoveryRunning without doing any work.
func (j *PaymentRecoveryJob) RunOnce(ctx context.Context) (RecoveryReport, error) {
	if !j.running.CompareAndSwap(false, true) {
		return RecoveryReport{}, ErrRecoveryRunning
	}
	defer j.running.Store(false)

	start := time.Now()
	defer func() { metrics.RecoveryRunDuration.Observe(time.Since(start).Seconds()) }()

	if j.breaker != nil && !j.breaker.Allowing() {
		j.log.Warn("payment gateway degraded, skipping recovery run")
		metrics.RecoveryRunsTotal.WithLabelValues("skipped").Inc()
		return RecoveryReport{Skipped: true}, nil
	}

	stuck, err := j.stuckPayments(ctx)
	if err != nil {
		metrics.RecoveryRunsTotal.WithLabelValues("error").Inc()
		return RecoveryReport{}, err
	}

	var report RecoveryReport
	for _, p := range stuck {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}
		if !j.recover(ctx, p, &report) {
			report.Aborted = true
			break
		}
	}

	result := "completed"
	if report.Aborted {
		result = "aborted"
	}
	metrics.RecoveryRunsTotal.WithLabelValues(result).Inc()

	if report.Checked > 0 || report.Aborted {
		j.log.WithFields(logrus.Fields{
			"checked":       report.Checked,
			"confirmed":     report.Confirmed,
			"failed":        report.Failed,
			"still_pending": report.StillPending,
			"deferred":      report.Deferred,
			"aborted":       report.Aborted,
		}).Info("✅ Payment recovery run finished")
	}
	return report, nil
}

func (j *PaymentRecoveryJob) stuckPayments(ctx context.Context) ([]models.Payment, error) {
	now := j.now().UTC()

	var stuck []models.Payment
	err := j.db.WithContext(ctx).
		Where("status IN ?", models.NonTerminalPaymentStatuses()).
		Where("created_at <= ?", now.Add(-j.cfg.StuckAfter)).
		Where("next_check_at IS NULL OR next_check_at <= ?", now).
		Order("created_at ASC").
		Limit(j.cfg.BatchSize).
		Find(&stuck).Error
	return stuck, err
}

// recover checks one payment. It returns false when the run must stop.
func (j *PaymentRecoveryJob) recover(ctx context.Context, p models.Payment, report *RecoveryReport) bool {
	log := j.log.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"booking_id": p.BookingID,
		"intent_id":  p.GatewayIntentID,
		"attempt":    p.CheckAttempts + 1,
	})

	intent, err := j.gateway.RetrieveIntent(ctx, p.GatewayIntentID)
	if errors.Is(err, payments.ErrCircuitOpen) {
		log.Warn("payment gateway degraded, stopping recovery run")
		return false
	}
	report.Checked++

	switch {
	case payments.IsMissing(err):
		log.WithError(err).Warn("gateway has no record of the intent, failing payment")
		j.apply(ctx, log, p, models.PaymentFailed, payments.CodeResourceMissing, report)
		return true

	case payments.IsPermanent(err):
		// The gateway refused the question, which says nothing about
		// whether the customer paid.
		log.WithError(err).Error("🔥 Gateway rejected payment status check, will retry")
		report.Errors++
		j.reschedule(ctx, log, p)
		return true

	case err != nil:
		log.WithError(err).Warn("transient gateway error, will retry")
		report.Deferred++
		j.reschedule(ctx, log, p)
		return true
	}

	j.apply(ctx, log, p, intent.Status, intent.FailureReason, report)
	return true
}

func (j *PaymentRecoveryJob) apply(ctx context.Context, log logrus.FieldLogger, p models.Payment, status models.PaymentStatus, reason string, report *RecoveryReport) {
	attempts, next := j.nextCheck(p)
	outcome, err := j.reconciler.Apply(ctx, p.ID, status, reason, services.SourceRecovery, services.WithNextCheck(attempts, next))
	if err != nil {
		log.WithError(err).Error("🔥 Failed to reconcile recovered payment")
		report.Errors++
		j.reschedule(ctx, log, p)
		return
	}

	switch outcome {
	case services.OutcomeConfirmed:
		report.Confirmed++
	case services.OutcomeFailed:
		report.Failed++
	case services.OutcomePending:
		report.StillPending++
	}
}

// nextCheck pushes the next check out by an exponential backoff.
func (j *PaymentRecoveryJob) nextCheck(p models.Payment) (int, time.Time) {
	return p.CheckAttempts + 1, j.now().UTC().Add(Backoff(j.cfg.BaseBackoff, j.cfg.MaxBackoff, p.CheckAttempts))
}

// reschedule records a check that produced no status.
func (j *PaymentRecoveryJob) reschedule(ctx context.Context, log logrus.FieldLogger, p models.Payment) {
	attempts, next := j.nextCheck(p)

	err := j.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"check_attempts":  attempts,
			"last_checked_at": j.now().UTC(),
			"next_check_at":   next,
		}).Error
	if err != nil {
		log.WithError(err).Error("🔥 Failed to reschedule payment check")
	}
}

// Backoff returns min(base * 2^attempts, ceiling).
func Backoff(base, ceiling time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return ceiling
	}
	d := base
	for i := 0; i < attempts; i++ {
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
		d *= 2
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}

func (j *PaymentRecoveryJob) Running() bool { return j.running.Load() }
