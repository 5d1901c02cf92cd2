package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type IdleArchiver interface {
	ArchiveIdle(ctx context.Context, idleSince time.Time) (int64, error)
}

// ArchiveJob deactivates sessions that have seen no message for idleTimeout.
// Visitors ending a chat only forget it locally; this is what eventually
// archives it server-side.
type ArchiveJob struct {
	archiver    IdleArchiver
	idleTimeout time.Duration
	interval    time.Duration
	now         func() time.Time
	done        chan struct{}
	stopOnce    sync.Once
}

func NewArchiveJob(archiver IdleArchiver, idleTimeout, interval time.Duration) *ArchiveJob {
	return &ArchiveJob{
		archiver:    archiver,
		idleTimeout: idleTimeout,
		interval:    interval,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

func (j *ArchiveJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("idleTimeout", j.idleTimeout).
		Msg("archive job started")
}

func (j *ArchiveJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		log.Info().Msg("archive job stopped")
	})
}

func (j *ArchiveJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.archive()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.archive()
		}
	}
}

func (j *ArchiveJob) archive() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := j.archiver.ArchiveIdle(ctx, j.now().Add(-j.idleTimeout))
	if err != nil {
		log.Error().Err(err).Msg("failed to archive idle sessions")
	} else if count > 0 {
		log.Info().Int64("count", count).Msg("archived idle sessions")
	}
}
