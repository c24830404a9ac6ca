package analytics

import (
	"sync"
	"time"

	"progressionkit/core"
)

const dayLayout = "2006-01-02"

// retainDays bounds how many distinct days DAU keeps in memory.
const retainDays = 8

// DAU tracks daily active users.
type DAU struct {
	mu   sync.Mutex
	days map[string]map[core.UserID]struct{}
	now  func() time.Time
}

func NewDAU() *DAU {
	return &DAU{days: map[string]map[core.UserID]struct{}{}, now: time.Now}
}

func (d *DAU) OnEvent(e core.Event) {
	at := e.Time
	if at.IsZero() {
		at = d.now()
	}
	day := at.UTC().Format(dayLayout)
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.days[day]
	if m == nil {
		m = map[core.UserID]struct{}{}
		d.days[day] = m
		d.prune(at)
	}
	m[e.UserID] = struct{}{}
}

func (d *DAU) prune(at time.Time) {
	cutoff := at.UTC().AddDate(0, 0, -retainDays).Format(dayLayout)
	for day := range d.days {
		if day < cutoff {
			delete(d.days, day)
		}
	}
}

func (d *DAU) Count(day string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.days[day])
}

func (d *DAU) Today() int { return d.Count(d.now().UTC().Format(dayLayout)) }
