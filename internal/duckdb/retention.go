package duckdb

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultRetentionDays applies when RetentionConfig is omitted.
	DefaultRetentionDays = 14

	// DefaultRetentionInterval is the time between sweeps.
	DefaultRetentionInterval = time.Hour
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
	Now           func() time.Time
}

// RetentionCleaner drops samples and diagnostics that fall outside the
// retention window. It sweeps once when created so a restarted process
// catches up before the first tick.
type RetentionCleaner struct {
	store    *Store
	window   time.Duration
	interval time.Duration
	now      func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	deleted  atomic.Int64
}

// NewRetentionCleaner starts a cleaner. It returns nil when retention is
// disabled (RetentionDays <= 0).
func NewRetentionCleaner(store *Store, conf ...RetentionConfig) *RetentionCleaner {
	rc := &RetentionCleaner{
		store:    store,
		window:   DefaultRetentionDays * 24 * time.Hour,
		interval: DefaultRetentionInterval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if len(conf) > 0 {
		if conf[0].RetentionDays <= 0 {
			return nil
		}
		rc.window = time.Duration(conf[0].RetentionDays) * 24 * time.Hour
		if conf[0].Interval > 0 {
			rc.interval = conf[0].Interval
		}
		if conf[0].Now != nil {
			rc.now = conf[0].Now
		}
	}

	rc.Sweep()

	rc.wg.Add(1)
	go rc.loop()
	return rc
}

func (rc *RetentionCleaner) loop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.Sweep()
		case <-rc.done:
			return
		}
	}
}

// Sweep deletes expired rows now and returns how many went.
func (rc *RetentionCleaner) Sweep() int64 {
	cutoff := rc.now().Add(-rc.window)
	rows, err := rc.store.DeleteBefore(cutoff)
	if err != nil {
		log.Printf("duckdb: retention sweep failed: %v", err)
		return 0
	}
	if rows > 0 {
		rc.deleted.Add(rows)
		log.Printf("duckdb: retention sweep deleted %d rows older than %s", rows, cutoff.UTC().Format(time.RFC3339))
	}
	return rows
}

// Deleted returns the number of rows removed since the cleaner started.
func (rc *RetentionCleaner) Deleted() int64 { return rc.deleted.Load() }

// Stop ends the sweep loop and waits for a running sweep to finish.
func (rc *RetentionCleaner) Stop() {
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
