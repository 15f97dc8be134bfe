package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockMode selects how WithAlarmLock acquires the alarm row.
type LockMode int

const (
	// LockNoWait fails immediately with domain.ErrLockContention when the row is held.
	LockNoWait LockMode = iota
	// LockWait waits up to the repository lock timeout before failing with domain.ErrLockContention.
	LockWait
)

const defaultLockWaitTimeout = 2 * time.Second

type SweepParams struct {
	Now        time.Time
	Cooldown   time.Duration
	MaxAge     time.Duration
	MaxRetries int
	Limit      int
}

// AlarmTx exposes the locked alarm and the writes allowed while the lock is held.
type AlarmTx interface {
	Alarm() *domain.Alarm
	Save(ctx context.Context) error
	// CreateAttempt inserts the attempt and increments the alarm attempt counter in the same transaction.
	CreateAttempt(ctx context.Context, a *domain.NotificationAttempt) error
	LatestAttempt(ctx context.Context) (*domain.NotificationAttempt, error)
	SaveAttempt(ctx context.Context, a *domain.NotificationAttempt) error
}

type AlarmRepository interface {
	Create(ctx context.Context, a *domain.Alarm) error
	GetByID(ctx context.Context, id string) (*domain.Alarm, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Alarm, error)
	FindRecentBySource(ctx context.Context, sourceID string, from, to time.Time) (*domain.Alarm, error)
	ListDueForSweep(ctx context.Context, params SweepParams) ([]domain.Alarm, error)
	WithAlarmLock(ctx context.Context, id string, mode LockMode, fn func(ctx context.Context, tx AlarmTx) error) error
}

type GormAlarmRepo struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

func NewGormAlarmRepo(db *gorm.DB) *GormAlarmRepo {
	return &GormAlarmRepo{db: db, lockTimeout: defaultLockWaitTimeout}
}

func (r *GormAlarmRepo) SetLockTimeout(timeout time.Duration) {
	if timeout > 0 {
		r.lockTimeout = timeout
	}
}

func (r *GormAlarmRepo) Create(ctx context.Context, a *domain.Alarm) error {
	model := alarmModelFromDomain(a)
	if model == nil {
		return fmt.Errorf("%w: alarm is required", domain.ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*a = *alarmModelToDomain(model)
	return nil
}

func (r *GormAlarmRepo) GetByID(ctx context.Context, id string) (*domain.Alarm, error) {
	var model AlarmModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alarmModelToDomain(&model), nil
}

func (r *GormAlarmRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Alarm, error) {
	var model AlarmModel
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alarmModelToDomain(&model), nil
}

// FindRecentBySource returns the latest alarm for the source triggered within [from, to].
func (r *GormAlarmRepo) FindRecentBySource(ctx context.Context, sourceID string, from, to time.Time) (*domain.Alarm, error) {
	var model AlarmModel
	err := r.db.WithContext(ctx).
		Where("source_id = ? AND triggered_at >= ? AND triggered_at <= ?", sourceID, from.UTC(), to.UTC()).
		Order("triggered_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alarmModelToDomain(&model), nil
}

// ListDueForSweep returns PENDING/ERROR alarms below the retry cap whose last activity
// predates the cooldown and whose scheduled retry time, if any, has passed.
func (r *GormAlarmRepo) ListDueForSweep(ctx context.Context, params SweepParams) ([]domain.Alarm, error) {
	now := params.Now.UTC()
	if params.Limit <= 0 {
		params.Limit = 100
	}
	if params.MaxRetries <= 0 {
		params.MaxRetries = domain.MaxRetries
	}

	query := r.db.WithContext(ctx).
		Model(&AlarmModel{}).
		Where("notification_status IN ?", []domain.NotificationStatus{domain.StatusPending, domain.StatusError}).
		Where("notification_attempt_count < ?", params.MaxRetries).
		Where("COALESCE(last_attempt, created_at) <= ?", now.Add(-params.Cooldown)).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now)
	if params.MaxAge > 0 {
		query = query.Where("triggered_at >= ?", now.Add(-params.MaxAge))
	}

	var models []AlarmModel
	if err := query.Order("triggered_at ASC").Limit(params.Limit).Find(&models).Error; err != nil {
		return nil, err
	}

	alarms := make([]domain.Alarm, 0, len(models))
	for i := range models {
		alarms = append(alarms, *alarmModelToDomain(&models[i]))
	}
	return alarms, nil
}

// WithAlarmLock runs fn inside a transaction holding an exclusive lock on the alarm row.
// Every mutation of an alarm goes through here.
func (r *GormAlarmRepo) WithAlarmLock(
	ctx context.Context,
	id string,
	mode LockMode,
	fn func(ctx context.Context, tx AlarmTx) error,
) error {
	if fn == nil {
		return fmt.Errorf("lock callback is required")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if r.supportsRowLocks() {
			if mode == LockWait {
				stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			query = tx.Clauses(lockClause(mode))
		}

		var model AlarmModel
		err := query.First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		return fn(ctx, &gormAlarmTx{db: tx, alarm: alarmModelToDomain(&model)})
	})

	return mapLockError(err)
}

func (r *GormAlarmRepo) supportsRowLocks() bool {
	return r.db.Dialector.Name() == "postgres"
}

func lockClause(mode LockMode) clause.Locking {
	if mode == LockNoWait {
		return clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsNoWait}
	}
	return clause.Locking{Strength: clause.LockingStrengthUpdate}
}

type gormAlarmTx struct {
	db    *gorm.DB
	alarm *domain.Alarm
}

func (t *gormAlarmTx) Alarm() *domain.Alarm {
	return t.alarm
}

func (t *gormAlarmTx) Save(ctx context.Context) error {
	model := alarmModelFromDomain(t.alarm)
	return t.db.WithContext(ctx).
		Model(&AlarmModel{ID: model.ID}).
		Select(
			"notification_status",
			"notification_sent",
			"notification_error",
			"last_attempt",
			"next_retry_at",
			"correlation_id",
			"channel",
			"updated_at",
		).
		Updates(model).Error
}

func (t *gormAlarmTx) CreateAttempt(ctx context.Context, a *domain.NotificationAttempt) error {
	if a == nil {
		return fmt.Errorf("%w: attempt is required", domain.ErrValidation)
	}
	a.AlarmID = t.alarm.ID
	if err := a.Validate(); err != nil {
		return err
	}

	model := attemptModelFromDomain(a)
	if err := t.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	if err := t.db.WithContext(ctx).
		Model(&AlarmModel{}).
		Where("id = ?", t.alarm.ID).
		Update("notification_attempt_count", gorm.Expr("notification_attempt_count + 1")).Error; err != nil {
		return err
	}

	t.alarm.AttemptCount++
	*a = *attemptModelToDomain(model)
	return nil
}

func (t *gormAlarmTx) LatestAttempt(ctx context.Context) (*domain.NotificationAttempt, error) {
	var model NotificationAttemptModel
	err := t.db.WithContext(ctx).
		Where("alarm_id = ?", t.alarm.ID).
		Order("created_at DESC").
		Order("retry_count DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attemptModelToDomain(&model), nil
}

func (t *gormAlarmTx) SaveAttempt(ctx context.Context, a *domain.NotificationAttempt) error {
	if a == nil || a.AlarmID != t.alarm.ID {
		return fmt.Errorf("%w: attempt does not belong to alarm %s", domain.ErrValidation, t.alarm.ID)
	}

	var current NotificationAttemptModel
	if err := t.db.WithContext(ctx).First(&current, "id = ?", a.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		return err
	}
	if current.Status != a.Status {
		if err := domain.ValidateAttemptTransition(current.Status, a.Status); err != nil {
			return err
		}
	}

	model := attemptModelFromDomain(a)
	return t.db.WithContext(ctx).
		Model(&NotificationAttemptModel{ID: a.ID}).
		Select("status", "error_message", "sent_at", "updated_at").
		Updates(model).Error
}
