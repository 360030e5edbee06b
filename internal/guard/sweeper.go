package guard

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper runs Guard.Sweep on a fixed interval as an explicitly owned
// background task, so it can be shut down with the rest of the process.
type Sweeper struct {
	guard    *Guard
	interval time.Duration

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func NewSweeper(g *Guard, interval time.Duration) *Sweeper {
	return &Sweeper{
		guard:    g,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				removed := s.guard.Sweep()
				if removed > 0 {
					log.Debug().Int("removed", removed).Msg("swept stale attempt records")
				}
			case <-s.done:
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.once.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
