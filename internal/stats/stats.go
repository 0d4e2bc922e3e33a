// Package stats aggregates traffic samples collected from monitored
// routers into per-target throughput rates.
package stats

import (
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/rwatch/internal/ringchan"
	"github.com/srg/rwatch/internal/router"
)

// recentRates is how many computed rates are kept per target for consumers
// that attach late (e.g. the monitor view).
const recentRates = 128

// Sample is one SNMP counter reading for a target: total octets across all
// interfaces plus the device uptime.
type Sample struct {
	At       time.Time
	Uptime   time.Duration
	RxOctets uint64
	TxOctets uint64
}

// Rate is the throughput derived from two successive samples.
type Rate struct {
	At           time.Time
	RxBitsPerSec float64
	TxBitsPerSec float64
}

type series struct {
	last  *Sample
	rates *ringchan.RingChannel[Rate]
}

// Collector maintains per-target sample series. It implements
// router.Stats; the SNMP poller feeds it via Record.
type Collector struct {
	series *hashmap.Map[string, *series]
	logger *logrus.Logger
}

// NewCollector creates an empty collector.
func NewCollector(logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Collector{
		series: hashmap.New[string, *series](),
		logger: logger,
	}
}

// Track starts a series for the target if one does not exist yet.
func (c *Collector) Track(t *router.Target) {
	c.track(t.ID)
}

func (c *Collector) track(id string) {
	c.series.GetOrInsert(id, &series{rates: ringchan.New[Rate](recentRates)})
}

// Forget drops the target's series and closes its rate stream.
func (c *Collector) Forget(id string) {
	if s, ok := c.series.Get(id); ok {
		c.series.Del(id)
		s.rates.Close()
	}
}

// Record ingests a sample for the target, deriving a rate from the
// previous sample when one exists. Counter wrap (router reboot or 32-bit
// rollover) discards the pair instead of producing a negative rate.
func (c *Collector) Record(id string, sample Sample) {
	s, ok := c.series.Get(id)
	if !ok {
		c.track(id)
		s, _ = c.series.Get(id)
	}

	prev := s.last
	s.last = &sample
	if prev == nil {
		return
	}

	elapsed := sample.At.Sub(prev.At).Seconds()
	if elapsed <= 0 {
		return
	}
	if sample.RxOctets < prev.RxOctets || sample.TxOctets < prev.TxOctets {
		c.logger.WithField("target", id).Debug("Counter wrap detected, skipping sample pair")
		return
	}

	rate := Rate{
		At:           sample.At,
		RxBitsPerSec: float64(sample.RxOctets-prev.RxOctets) * 8 / elapsed,
		TxBitsPerSec: float64(sample.TxOctets-prev.TxOctets) * 8 / elapsed,
	}
	s.rates.Send(rate)
}

// Latest drains the target's buffered rates and returns the most recent
// one. Do not mix with a Stream consumer for the same target.
func (c *Collector) Latest(id string) (Rate, bool) {
	s, ok := c.series.Get(id)
	if !ok {
		return Rate{}, false
	}
	var latest Rate
	found := false
	for {
		r, ok := s.rates.TryReceive()
		if !ok {
			break
		}
		latest = r
		found = true
	}
	return latest, found
}

// Stream returns the target's rate channel, or nil if it is not tracked.
func (c *Collector) Stream(id string) <-chan Rate {
	if s, ok := c.series.Get(id); ok {
		return s.rates.C()
	}
	return nil
}
