package cleanup

import (
	"log"
	"os"
	"time"

	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
)

// Scheduler removes aged-out jobs and their stored audio files.
type Scheduler struct {
	store         *storage.Store
	interval      time.Duration
	retentionDays int
	stopChan      chan struct{}
}

// NewScheduler creates a new cleanup scheduler
func NewScheduler(store *storage.Store, interval time.Duration, retentionDays int) *Scheduler {
	return &Scheduler{
		store:         store,
		interval:      interval,
		retentionDays: retentionDays,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the cleanup scheduler
func (s *Scheduler) Start() {
	// Run initial purge on startup
	s.purge()

	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.purge()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %s, retention: %dd)",
		s.interval, s.retentionDays)
}

// Stop stops the cleanup scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Cleanup scheduler stopped")
}

// purge removes terminal jobs past the retention window together with
// their audio files.
func (s *Scheduler) purge() {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	purged, err := s.store.Purge(cutoff, RemoveFile)
	if err != nil {
		log.Printf("Purge failed: %v", err)
		return
	}
	if purged > 0 {
		log.Printf("Purged %d expired job(s)", purged)
	}
}

// RemoveFile deletes a stored upload, tolerating files already gone.
func RemoveFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove stored file %s: %v", path, err)
	}
}
