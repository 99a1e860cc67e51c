// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"sync"
	"time"

	"github.com/agourakis82/beagle-sub000/internal/config"
)

// DayWindow is the length of a rolling daily window.
const DayWindow = 24 * time.Hour

// DayCounter counts escalation calls in the current daily window.
type DayCounter interface {
	// TryIncrement adds one call if the count is below limit and reports
	// whether it did. A limit of zero or less never admits a call.
	TryIncrement(now time.Time, limit int) (bool, error)
	// Count returns the calls in the window containing now.
	Count(now time.Time) (int, error)
}

// MemoryDayCounter keeps the per-day count in process memory.
type MemoryDayCounter struct {
	mu     sync.Mutex
	window config.DailyWindow
	loc    *time.Location

	// rolling
	stamps []time.Time

	// calendar
	dayKey string
	count  int
}

// NewMemoryDayCounter creates a counter for window. loc is used for
// calendar windows; nil means UTC.
func NewMemoryDayCounter(window config.DailyWindow, loc *time.Location) *MemoryDayCounter {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryDayCounter{window: window, loc: loc}
}

// TryIncrement implements DayCounter.
func (m *MemoryDayCounter) TryIncrement(now time.Time, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		return false, nil
	}

	if m.window == config.WindowCalendar {
		m.rollCalendar(now)
		if m.count >= limit {
			return false, nil
		}
		m.count++
		return true, nil
	}

	m.prune(now)
	if len(m.stamps) >= limit {
		return false, nil
	}
	m.stamps = append(m.stamps, now)
	return true, nil
}

// Count implements DayCounter.
func (m *MemoryDayCounter) Count(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.window == config.WindowCalendar {
		m.rollCalendar(now)
		return m.count, nil
	}
	m.prune(now)
	return len(m.stamps), nil
}

func (m *MemoryDayCounter) rollCalendar(now time.Time) {
	key := DayKey(now, m.loc)
	if key != m.dayKey {
		m.dayKey = key
		m.count = 0
	}
}

// prune drops timestamps that fell out of the trailing 24 hours. Stamps are
// appended in call order, so the expired ones form a prefix.
func (m *MemoryDayCounter) prune(now time.Time) {
	cutoff := now.Add(-DayWindow)
	i := 0
	for i < len(m.stamps) && !m.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		m.stamps = append(m.stamps[:0], m.stamps[i:]...)
	}
}

// DayKey formats the calendar day containing now in loc.
func DayKey(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}
