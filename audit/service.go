package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/divelog/server/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	queueSize = 1024
	batchSize = 100
)

// Entry is one audited action. ActorID is the authenticated caller,
// TargetID the account the action was aimed at.
type Entry struct {
	TraceID    string
	ActorID    *int64
	TargetID   *int64
	Action     string
	Request    interface{}
	Response   interface{}
	Error      string
	IP         string
	DurationMs int
}

// Service writes audit entries asynchronously in batches.
type Service struct {
	db       *gorm.DB
	ch       chan *model.AuditLog
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	interval time.Duration
	logger   *zap.Logger
}

// New creates a Service and starts its background writer. Buffered entries
// are flushed every interval, or sooner once a batch fills up.
func New(db *gorm.DB, interval time.Duration, logger *zap.Logger) *Service {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	svc := &Service{
		db:       db,
		ch:       make(chan *model.AuditLog, queueSize),
		stopCh:   make(chan struct{}),
		interval: interval,
		logger:   logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues entry. When the queue is full the entry is dropped.
func (svc *Service) Log(entry Entry) {
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		ActorID:    entry.ActorID,
		TargetID:   entry.TargetID,
		Action:     entry.Action,
		Request:    encode(entry.Request),
		Response:   encode(entry.Response),
		Error:      entry.Error,
		IP:         entry.IP,
		DurationMs: entry.DurationMs,
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit queue full, dropping entry", zap.String("action", entry.Action))
	}
}

// Recent returns the newest entries, optionally only those where accountID is
// the actor or target (accountID 0 means all).
func (svc *Service) Recent(ctx context.Context, accountID int64, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := svc.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if accountID != 0 {
		q = q.Where("actor_id = ? OR target_id = ?", accountID, accountID)
	}
	var logs []model.AuditLog
	if err := q.Find(&logs).Error; err != nil {
		return nil, errors.Wrap(err, "audit: list recent")
	}
	return logs, nil
}

// Stop flushes remaining entries and waits for the writer to exit. Safe to
// call more than once.
func (svc *Service) Stop(_ context.Context) {
	svc.stopOnce.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func encode(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("size", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
