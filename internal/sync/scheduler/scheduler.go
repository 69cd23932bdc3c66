// Package scheduler provides background scheduling for sync and local
// storage maintenance.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/buildwise/fieldsync/internal/errors"
	"github.com/buildwise/fieldsync/internal/logging"
	"github.com/buildwise/fieldsync/internal/models"
	"github.com/buildwise/fieldsync/internal/store"
	syncpkg "github.com/buildwise/fieldsync/internal/sync"
	"github.com/buildwise/fieldsync/internal/sync/queue"
	"github.com/buildwise/fieldsync/internal/telemetry"
)

// Maintainer is the scheduler's view of local storage maintenance,
// implemented by the record store.
type Maintainer interface {
	RunCleanup(now time.Time) ([]models.UUID, error)
	Usage() (*store.Usage, error)
	EvictPhotos(count int) ([]models.UUID, error)
}

// Scheduler manages background sync and maintenance.
type Scheduler struct {
	engine     syncpkg.SyncEngineInterface
	queue      *queue.SyncQueue
	maintainer Maintainer

	syncInterval        time.Duration
	maintenanceInterval time.Duration
	evictionBatch       int

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu                    sync.RWMutex
	isRunning             bool
	isOnline              bool
	lastSyncTime          time.Time
	syncInProgress        bool
	maintenanceInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval        time.Duration // how often to sync when online
	MaintenanceInterval time.Duration // how often to run cleanup and eviction
	EvictionBatch       int           // photos evicted per pass while over budget
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:        15 * time.Minute,
		MaintenanceInterval: 1 * time.Hour,
		EvictionBatch:       10,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, q *queue.SyncQueue, maintainer Maintainer, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}

	return &Scheduler{
		engine:              engine,
		queue:               q,
		maintainer:          maintainer,
		syncInterval:        config.SyncInterval,
		maintenanceInterval: config.MaintenanceInterval,
		evictionBatch:       config.EvictionBatch,
		stopCh:              make(chan struct{}),
		isOnline:            true, // Assume online initially
	}
}

// Start starts the background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.periodicSyncLoop(ctx)
	go s.maintenanceLoop(ctx)

	logging.Info("Background scheduler started", nil)
}

// Stop stops the background loops gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background scheduler stopped", nil)
}

// SetOnlineStatus changes the online status of the scheduler.
// When offline, no sync attempts are made; mutations keep accumulating in
// the queue. Maintenance runs either way.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOnline := s.isOnline
	s.isOnline = isOnline

	if wasOnline != isOnline {
		logging.Info("Online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
}

// periodicSyncLoop runs periodic sync when online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}

			s.mu.RLock()
			isSyncing := s.syncInProgress
			s.mu.RUnlock()

			if isSyncing {
				logging.Debug("Sync already in progress, skipping", nil)
				continue
			}

			go s.runSync(ctx)
		}
	}
}

// maintenanceLoop runs the cleanup sweep and budget-driven eviction.
func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			go s.runMaintenance()
		}
	}
}

// runSync executes a sync operation.
func (s *Scheduler) runSync(ctx context.Context) {
	if !s.IsOnline() {
		logging.Debug("Skipping sync - scheduler is offline", nil)
		return
	}

	s.mu.Lock()
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	logging.Info("Starting periodic sync", nil)

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)

	if err != nil {
		telemetry.RecordSyncFailure()
		logging.ErrorWithCode("Periodic sync failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"interval_minutes": s.syncInterval.Minutes()})
		return
	}

	telemetry.RecordSyncCycle(result.Pushed, result.Pulled, result.Conflicts, result.Failed, result.Duration)

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Periodic sync completed",
		map[string]interface{}{
			"pushed":    result.Pushed,
			"pulled":    result.Pulled,
			"conflicts": result.Conflicts,
		})
}

// RunMaintenance runs one cleanup and eviction pass immediately.
func (s *Scheduler) RunMaintenance() {
	s.runMaintenance()
}

func (s *Scheduler) runMaintenance() {
	s.mu.Lock()
	if s.maintenanceInProgress {
		s.mu.Unlock()
		return
	}
	s.maintenanceInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.maintenanceInProgress = false
		s.mu.Unlock()
	}()

	removed, err := s.maintainer.RunCleanup(time.Now())
	if err != nil {
		logging.Error("Cleanup sweep failed", err, nil)
	} else if len(removed) > 0 {
		telemetry.RecordCleanup(len(removed))
		logging.Info("Cleanup sweep completed",
			map[string]interface{}{"removed": len(removed)})
	}

	// Evict least-recently-used photos until back under budget. Each
	// pass is bounded; pending photos are never candidates, so the
	// loop stops once only protected data remains.
	for {
		usage, err := s.maintainer.Usage()
		if err != nil {
			logging.Error("Storage usage check failed", err, nil)
			return
		}
		if !usage.OverBudget() {
			return
		}

		evicted, err := s.maintainer.EvictPhotos(s.evictionBatch)
		if err != nil {
			logging.ErrorWithCode("Photo eviction failed", string(errors.ErrStorageExceeded), err, nil)
			return
		}
		if len(evicted) == 0 {
			logging.Warn("Storage over budget but nothing evictable",
				map[string]interface{}{"percent_used": usage.PercentUsed})
			return
		}

		telemetry.RecordEviction(len(evicted))
		logging.Info("Evicted photos to reclaim storage",
			map[string]interface{}{
				"evicted":      len(evicted),
				"percent_used": usage.PercentUsed,
			})
	}
}

// TriggerSync triggers an immediate sync operation.
// Returns true if sync was started, false if sync is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	isSyncing := s.syncInProgress
	s.mu.RUnlock()

	if isSyncing {
		return false
	}

	go s.runSync(ctx)
	return true
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning             bool
	IsOnline              bool
	LastSyncTime          *time.Time
	SyncInProgress        bool
	MaintenanceInProgress bool
	PendingItems          int
	QueueStats            map[string]int
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:             s.isRunning,
		IsOnline:              s.isOnline,
		SyncInProgress:        s.syncInProgress,
		MaintenanceInProgress: s.maintenanceInProgress,
	}

	if !s.lastSyncTime.IsZero() {
		status.LastSyncTime = &s.lastSyncTime
	}

	status.PendingItems = len(s.queue.GetPending())
	status.QueueStats = s.queue.GetStats()

	return status
}

// SyncNow triggers an immediate sync and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	s.mu.Lock()
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		telemetry.RecordSyncFailure()
		return err
	}

	telemetry.RecordSyncCycle(result.Pushed, result.Pulled, result.Conflicts, result.Failed, result.Duration)

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	logging.Info("Manual sync completed",
		map[string]interface{}{
			"pushed":    result.Pushed,
			"pulled":    result.Pulled,
			"conflicts": result.Conflicts,
		})

	return nil
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
