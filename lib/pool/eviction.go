package pool

import (
	"sync/atomic"
	"time"
)

// evictionLoop runs Evict every TimeBetweenEvictionRuns until StopEviction.
func (p *Pool[T]) evictionLoop() {
	defer close(p.evictDone)

	ticker := time.NewTicker(p.config.TimeBetweenEvictionRuns)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopEvict:
			return
		case <-ticker.C:
			p.Evict()
		}
	}
}

// StopEviction stops the eviction task and waits for a run in progress to
// finish. It is safe to call more than once.
func (p *Pool[T]) StopEviction() {
	p.stopOnce.Do(func() {
		close(p.stopEvict)
	})
	<-p.evictDone
}

// Evict performs one eviction run. It inspects up to NumTestsPerEvictionRun
// idle entries, oldest first, and destroys those idle longer than
// MinEvictableIdleTime or, with TestWhileIdle, failing validation. Entries
// beyond MaxIdle are then trimmed oldest first. Active values are never
// inspected.
func (p *Pool[T]) Evict() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	now := p.now()
	budget := p.numTestsLocked()
	kept := make([]entry[T], 0, len(p.idle))
	var doomed []T
	var expired, invalid int

	for i, e := range p.idle {
		if i >= budget {
			kept = append(kept, e)
			continue
		}
		if p.config.MinEvictableIdleTime > 0 && now.Sub(e.idleSince) > p.config.MinEvictableIdleTime {
			doomed = append(doomed, e.value)
			expired++
			continue
		}
		if p.config.TestWhileIdle && !p.factory.Validate(e.value) {
			doomed = append(doomed, e.value)
			invalid++
			continue
		}
		kept = append(kept, e)
	}

	trimmed := 0
	if surplus := len(kept) - p.config.MaxIdle; surplus > 0 {
		for _, e := range kept[:surplus] {
			doomed = append(doomed, e.value)
		}
		kept = kept[surplus:]
		trimmed = surplus
	}
	p.idle = kept
	p.retiring += len(doomed)
	p.mu.Unlock()

	atomic.AddUint64(&p.evicted, uint64(expired+trimmed))
	atomic.AddUint64(&p.validationFails, uint64(invalid))
	PoolEvictedTotal.Add(uint64(expired + trimmed))
	PoolValidationFailsTotal.Add(uint64(invalid))

	for _, v := range doomed {
		p.destroy(v, "evicted")
	}

	if len(doomed) > 0 {
		log.WithField("pool", p.name).
			WithField("expired", expired).
			WithField("invalid", invalid).
			WithField("trimmed", trimmed).
			Debug("eviction run removed handles")
	}
}

// numTestsLocked returns how many idle entries this run inspects (caller
// must hold lock). A negative setting -n means ceil(idle/n).
func (p *Pool[T]) numTestsLocked() int {
	n := p.config.NumTestsPerEvictionRun
	idle := len(p.idle)
	if n >= 0 {
		return min(n, idle)
	}
	d := -n
	return (idle + d - 1) / d
}
