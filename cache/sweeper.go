package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweep runs a loop removing expired entries from the database,
// once per interval, until the context is done.
// Expired entries are never served; sweeping only reclaims space.
func (s SQLiteCache) Sweep(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	log.Info().Msgf("Starting cache sweep loop with interval %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("Could not purge expired entries")
				continue
			}
			if n > 0 {
				log.Trace().Int64("purged", n).Msg("Purged expired entries")
			}
		}
	}
}
