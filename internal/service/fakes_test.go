package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
	"github.com/kursadbilgin/alarm-dispatch/internal/provider"
	"github.com/kursadbilgin/alarm-dispatch/internal/queue"
	"github.com/kursadbilgin/alarm-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/alarm-dispatch/internal/repository"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memAlarmRepo is an in-memory AlarmRepository whose per-alarm mutex mirrors the row lock:
// LockNoWait uses TryLock, LockWait blocks.
type memAlarmRepo struct {
	mu       sync.Mutex
	alarms   map[string]*domain.Alarm
	attempts map[string][]domain.NotificationAttempt
	locks    map[string]*sync.Mutex
	lockErr  error
	createFn func(a *domain.Alarm) error
}

var _ repository.AlarmRepository = (*memAlarmRepo)(nil)

func newMemAlarmRepo(alarms ...*domain.Alarm) *memAlarmRepo {
	r := &memAlarmRepo{
		alarms:   make(map[string]*domain.Alarm),
		attempts: make(map[string][]domain.NotificationAttempt),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, a := range alarms {
		copied := *a
		r.alarms[a.ID] = &copied
	}
	return r
}

func (r *memAlarmRepo) Create(ctx context.Context, a *domain.Alarm) error {
	if r.createFn != nil {
		if err := r.createFn(a); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.alarms[a.ID]; ok {
		return fmt.Errorf("duplicate alarm id %s", a.ID)
	}
	copied := *a
	r.alarms[a.ID] = &copied
	return nil
}

func (r *memAlarmRepo) GetByID(ctx context.Context, id string) (*domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.alarms[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *memAlarmRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.alarms {
		if a.CorrelationID != nil && *a.CorrelationID == correlationID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memAlarmRepo) FindRecentBySource(ctx context.Context, sourceID string, from, to time.Time) (*domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *domain.Alarm
	for _, a := range r.alarms {
		if a.SourceID != sourceID || a.Timestamp.Before(from) || a.Timestamp.After(to) {
			continue
		}
		if found == nil || a.Timestamp.After(found.Timestamp) {
			found = a
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}
	copied := *found
	return &copied, nil
}

func (r *memAlarmRepo) ListDueForSweep(ctx context.Context, params repository.SweepParams) ([]domain.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []domain.Alarm
	for _, a := range r.alarms {
		if a.Status != domain.StatusPending && a.Status != domain.StatusError {
			continue
		}
		if a.AttemptCount >= params.MaxRetries {
			continue
		}
		lastActivity := a.CreatedAt
		if a.LastAttempt != nil {
			lastActivity = *a.LastAttempt
		}
		if lastActivity.After(params.Now.Add(-params.Cooldown)) {
			continue
		}
		if a.NextRetryAt != nil && a.NextRetryAt.After(params.Now) {
			continue
		}
		if params.MaxAge > 0 && a.Timestamp.Before(params.Now.Add(-params.MaxAge)) {
			continue
		}
		due = append(due, *a)
	}

	sort.Slice(due, func(i, j int) bool { return due[i].Timestamp.Before(due[j].Timestamp) })
	if params.Limit > 0 && len(due) > params.Limit {
		due = due[:params.Limit]
	}
	return due, nil
}

func (r *memAlarmRepo) WithAlarmLock(
	ctx context.Context,
	id string,
	mode repository.LockMode,
	fn func(ctx context.Context, tx repository.AlarmTx) error,
) error {
	if r.lockErr != nil {
		return r.lockErr
	}

	r.mu.Lock()
	stored, ok := r.alarms[id]
	if !ok {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	lock := r.lockFor(id)
	r.mu.Unlock()

	if mode == repository.LockNoWait {
		if !lock.TryLock() {
			return fmt.Errorf("%w: row %s", domain.ErrLockContention, id)
		}
	} else {
		lock.Lock()
	}
	defer lock.Unlock()

	r.mu.Lock()
	working := *stored
	staged := append([]domain.NotificationAttempt(nil), r.attempts[id]...)
	r.mu.Unlock()

	tx := &memAlarmTx{alarm: &working, attempts: staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.saved {
		committed := *tx.alarm
		r.alarms[id] = &committed
	} else {
		r.alarms[id].AttemptCount += tx.created
	}
	r.attempts[id] = tx.attempts
	return nil
}

func (r *memAlarmRepo) lockFor(id string) *sync.Mutex {
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}

// holdLock takes the alarm row lock until the returned func is called.
func (r *memAlarmRepo) holdLock(id string) func() {
	r.mu.Lock()
	lock := r.lockFor(id)
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (r *memAlarmRepo) alarm(id string) domain.Alarm {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.alarms[id]
}

func (r *memAlarmRepo) attemptsFor(id string) []domain.NotificationAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationAttempt(nil), r.attempts[id]...)
}

func (r *memAlarmRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alarms)
}

func (r *memAlarmRepo) ListByAlarmID(ctx context.Context, alarmID string) ([]domain.NotificationAttempt, error) {
	return r.attemptsFor(alarmID), nil
}

func (r *memAlarmRepo) CountByAlarmID(ctx context.Context, alarmID string) (int64, error) {
	return int64(len(r.attemptsFor(alarmID))), nil
}

type memAlarmTx struct {
	alarm    *domain.Alarm
	attempts []domain.NotificationAttempt
	saved    bool
	created  int
}

func (t *memAlarmTx) Alarm() *domain.Alarm {
	return t.alarm
}

func (t *memAlarmTx) Save(ctx context.Context) error {
	t.saved = true
	return nil
}

func (t *memAlarmTx) CreateAttempt(ctx context.Context, a *domain.NotificationAttempt) error {
	a.AlarmID = t.alarm.ID
	if err := a.Validate(); err != nil {
		return err
	}
	t.attempts = append(t.attempts, *a)
	t.alarm.AttemptCount++
	t.created++
	return nil
}

func (t *memAlarmTx) LatestAttempt(ctx context.Context) (*domain.NotificationAttempt, error) {
	if len(t.attempts) == 0 {
		return nil, domain.ErrNotFound
	}
	latest := t.attempts[len(t.attempts)-1]
	return &latest, nil
}

func (t *memAlarmTx) SaveAttempt(ctx context.Context, a *domain.NotificationAttempt) error {
	for i := range t.attempts {
		if t.attempts[i].ID != a.ID {
			continue
		}
		if t.attempts[i].Status != a.Status {
			if err := domain.ValidateAttemptTransition(t.attempts[i].Status, a.Status); err != nil {
				return err
			}
		}
		t.attempts[i] = *a
		return nil
	}
	return domain.ErrNotFound
}

type fakeContacts struct {
	getFn func(ctx context.Context, subjectID string) (*domain.Contact, error)
}

func (f *fakeContacts) GetBySubjectID(ctx context.Context, subjectID string) (*domain.Contact, error) {
	if f.getFn != nil {
		return f.getFn(ctx, subjectID)
	}
	return &domain.Contact{
		SubjectID:   subjectID,
		SubjectName: "Rex",
		CustodianID: "custodian-1",
		PhoneNumber: "+5215512345678",
	}, nil
}

type fakeChannelSource struct {
	mu      sync.Mutex
	channel domain.Channel
}

func (f *fakeChannelSource) CurrentChannel(ctx context.Context) domain.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channel == "" {
		return domain.DefaultChannel
	}
	return f.channel
}

func (f *fakeChannelSource) set(channel domain.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channel = channel
}

type fakeProvider struct {
	channel domain.Channel
	sendFn  func(ctx context.Context, recipient provider.Recipient, message provider.Message) (*provider.Result, error)

	mu    sync.Mutex
	calls []provider.Message
}

func (f *fakeProvider) Channel() domain.Channel {
	return f.channel
}

func (f *fakeProvider) Send(ctx context.Context, recipient provider.Recipient, message provider.Message) (*provider.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, message)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, recipient, message)
	}
	return &provider.Result{CorrelationID: "MSG123", StatusCode: 201, AwaitsConfirmation: true}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, key string) (bool, error)
	waitFn  func(ctx context.Context, key string) error
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, key)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type delayedMessage struct {
	msg   queue.DispatchMessage
	delay time.Duration
}

type fakePublisher struct {
	publishFn        func(ctx context.Context, msg queue.DispatchMessage) error
	publishDelayedFn func(ctx context.Context, msg queue.DispatchMessage, delay time.Duration) error
	closeFn          func() error

	mu        sync.Mutex
	published []queue.DispatchMessage
	delayed   []delayedMessage
}

var _ queue.Publisher = (*fakePublisher)(nil)

func (f *fakePublisher) Publish(ctx context.Context, msg queue.DispatchMessage) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) PublishDelayed(ctx context.Context, msg queue.DispatchMessage, delay time.Duration) error {
	if f.publishDelayedFn != nil {
		if err := f.publishDelayedFn(ctx, msg, delay); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.delayed = append(f.delayed, delayedMessage{msg: msg, delay: delay})
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

func (f *fakePublisher) publishedMessages() []queue.DispatchMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.DispatchMessage(nil), f.published...)
}

func (f *fakePublisher) delayedMessages() []delayedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delayedMessage(nil), f.delayed...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queue string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

// memGate is an in-memory TriggerGate that expires entries against its clock.
type memGate struct {
	mu       sync.Mutex
	entries  map[string]gateEntry
	now      func() time.Time
	claimErr error
}

type gateEntry struct {
	alarmID string
	expires time.Time
}

func newMemGate(now func() time.Time) *memGate {
	return &memGate{entries: make(map[string]gateEntry), now: now}
}

func (g *memGate) live(sourceID string) (gateEntry, bool) {
	entry, ok := g.entries[sourceID]
	if !ok || !g.now().Before(entry.expires) {
		delete(g.entries, sourceID)
		return gateEntry{}, false
	}
	return entry, true
}

func (g *memGate) Claim(ctx context.Context, sourceID string, window time.Duration) (bool, error) {
	if g.claimErr != nil {
		return false, g.claimErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.live(sourceID); ok {
		return false, nil
	}
	g.entries[sourceID] = gateEntry{expires: g.now().Add(window)}
	return true, nil
}

func (g *memGate) Bind(ctx context.Context, sourceID, alarmID string, window time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[sourceID] = gateEntry{alarmID: alarmID, expires: g.now().Add(window)}
	return nil
}

func (g *memGate) Resolve(ctx context.Context, sourceID string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.live(sourceID)
	if !ok || entry.alarmID == "" {
		return "", false, nil
	}
	return entry.alarmID, true, nil
}

func (g *memGate) Release(ctx context.Context, sourceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.live(sourceID); ok && entry.alarmID == "" {
		delete(g.entries, sourceID)
	}
	return nil
}

type fakeSettingRepo struct {
	getFn func(ctx context.Context, parameter string) (string, error)
	setFn func(ctx context.Context, parameter, value, description string) error
}

func (f *fakeSettingRepo) Get(ctx context.Context, parameter string) (string, error) {
	if f.getFn != nil {
		return f.getFn(ctx, parameter)
	}
	return "", domain.ErrNotFound
}

func (f *fakeSettingRepo) Set(ctx context.Context, parameter, value, description string) error {
	if f.setFn != nil {
		return f.setFn(ctx, parameter, value, description)
	}
	return nil
}

func newPendingAlarm(id string) *domain.Alarm {
	return &domain.Alarm{
		ID:        id,
		SubjectID: "subject-1",
		SourceID:  "qr-1",
		Timestamp: testEpoch,
		Status:    domain.StatusPending,
		CreatedAt: testEpoch,
		UpdatedAt: testEpoch,
	}
}

func timeoutError(channel domain.Channel) error {
	return &provider.ProviderError{
		Channel:   channel,
		Message:   "request timed out",
		Transient: true,
		Cause:     context.DeadlineExceeded,
	}
}

var errDatabaseDown = errors.New("database is down")
