// Package summary keeps the office-wide physical count counters current
// between full reloads by applying old/new deltas.
package summary

import (
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/models"
)

// Aggregator holds the four counters for one office. Deltas are ignored
// until LoadFull has run for the office. Loop-confined.
type Aggregator struct {
	log    *logrus.Entry
	office string
	loaded bool
	stats  models.SummaryStats
}

// New returns an aggregator with no office loaded.
func New(log *logrus.Logger) *Aggregator {
	return &Aggregator{log: logging.Or(log).WithField("component", "summary")}
}

// Reset forgets the counters and scopes the aggregator to office, pending a LoadFull.
func (a *Aggregator) Reset(office string) {
	a.office = office
	a.loaded = false
	a.stats = models.SummaryStats{}
}

// LoadFull replaces all counters with server-computed office totals.
func (a *Aggregator) LoadFull(office string, stats models.SummaryStats) {
	a.office = office
	a.loaded = true
	a.stats = stats
	a.clamp("load")
}

// Office returns the office the counters belong to.
func (a *Aggregator) Office() string { return a.office }

// Loaded reports whether counters have been loaded for the current office.
func (a *Aggregator) Loaded() bool { return a.loaded }

// Snapshot returns a copy of the counters.
func (a *Aggregator) Snapshot() models.SummaryStats { return a.stats }

// ApplyVerifiedDelta moves verifiedCount by the difference between the old
// and new flag. Repeating a transition that already happened is a no-op.
func (a *Aggregator) ApplyVerifiedDelta(wasVerified, isVerified bool) {
	if !a.loaded || wasVerified == isVerified {
		return
	}
	if isVerified {
		a.stats.VerifiedCount++
	} else {
		a.stats.VerifiedCount--
	}
	a.clamp("verified")
}

// ApplyStatusDelta moves missingCount and forRepairCount by ±1 each as the
// status leaves or enters those states.
func (a *Aggregator) ApplyStatusDelta(oldStatus, newStatus models.AssetStatus) {
	if !a.loaded || oldStatus == newStatus {
		return
	}
	switch oldStatus {
	case models.StatusMissing:
		a.stats.MissingCount--
	case models.StatusForRepair:
		a.stats.ForRepairCount--
	}
	switch newStatus {
	case models.StatusMissing:
		a.stats.MissingCount++
	case models.StatusForRepair:
		a.stats.ForRepairCount++
	}
	a.clamp("status")
}

// clamp keeps counters within [0, total]. Hitting a bound means the deltas
// drifted from the server; the next full reload corrects it.
func (a *Aggregator) clamp(source string) {
	s := &a.stats
	fix := func(name string, v *int, upper int) {
		if *v < 0 {
			a.log.WithFields(logrus.Fields{"office": a.office, "counter": name, "value": *v, "source": source}).
				Warn("Counter underflow clamped to zero; waiting for next full reload")
			*v = 0
		}
		if upper >= 0 && *v > upper {
			a.log.WithFields(logrus.Fields{"office": a.office, "counter": name, "value": *v, "total": upper, "source": source}).
				Warn("Counter exceeded office total; clamped")
			*v = upper
		}
	}
	fix("totalOfficeAssets", &s.TotalOfficeAssets, -1)
	fix("verifiedCount", &s.VerifiedCount, s.TotalOfficeAssets)
	fix("missingCount", &s.MissingCount, s.TotalOfficeAssets)
	fix("forRepairCount", &s.ForRepairCount, s.TotalOfficeAssets)
}
