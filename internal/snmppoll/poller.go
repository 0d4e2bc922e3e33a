// Package snmppoll implements the polling-protocol collaborator: a
// per-target SNMP poll loop reading IF-MIB octet counters and sysUpTime,
// feeding the statistics collector.
package snmppoll

import (
	"context"
	"sync"
	"time"

	g "github.com/gosnmp/gosnmp"
	"github.com/sirupsen/logrus"

	"github.com/srg/rwatch/internal/groutine"
	"github.com/srg/rwatch/internal/router"
	"github.com/srg/rwatch/internal/stats"
)

const (
	oidSysUpTime   = "1.3.6.1.2.1.1.3.0"
	oidIfInOctets  = "1.3.6.1.2.1.2.2.1.10"
	oidIfOutOctets = "1.3.6.1.2.1.2.2.1.16"

	snmpTimeout = 2 * time.Second
	snmpRetries = 1
)

// Poller runs one polling goroutine per started target. It implements
// router.Poller.
type Poller struct {
	collector *stats.Collector
	logger    *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a poller feeding the given collector.
func New(collector *stats.Collector, logger *logrus.Logger) *Poller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Poller{
		collector: collector,
		logger:    logger,
		sessions:  make(map[string]*session),
	}
}

// Start launches the poll loop for the target. Idempotent: a second Start
// for the same target is a no-op.
func (p *Poller) Start(t *router.Target) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, running := p.sessions[t.ID]; running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{cancel: cancel, done: make(chan struct{})}
	p.sessions[t.ID] = sess

	groutine.Go(ctx, "snmp-poll-"+t.Name, func(ctx context.Context) {
		defer close(sess.done)
		p.run(ctx, t)
	})

	p.logger.WithFields(logrus.Fields{
		"target":   t.Name,
		"interval": t.SNMP.Interval,
	}).Info("SNMP polling started")
	return nil
}

// Stop cancels the target's poll loop, if any, and waits for it to exit
// so no sample is recorded for the target after Stop returns.
func (p *Poller) Stop(t *router.Target) {
	p.mu.Lock()
	sess, running := p.sessions[t.ID]
	delete(p.sessions, t.ID)
	p.mu.Unlock()

	if running {
		sess.cancel()
		<-sess.done
		p.logger.WithField("target", t.Name).Info("SNMP polling stopped")
	}
}

// Running reports whether a poll loop is active for the target id.
func (p *Poller) Running(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, running := p.sessions[id]
	return running
}

func (p *Poller) run(ctx context.Context, t *router.Target) {
	client := &g.GoSNMP{
		Target:    t.Address,
		Port:      t.SNMP.Port,
		Community: t.SNMP.Community,
		Version:   g.Version2c,
		Timeout:   snmpTimeout,
		Retries:   snmpRetries,
		Context:   ctx,
	}

	if err := client.Connect(); err != nil {
		p.logger.WithError(err).WithField("target", t.Name).Warn("SNMP connect failed")
		return
	}
	defer func() {
		if client.Conn != nil {
			_ = client.Conn.Close()
		}
	}()

	interval := t.SNMP.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sample, err := p.poll(client)
		if err != nil {
			p.logger.WithError(err).WithField("target", t.Name).Debug("SNMP poll failed")
		} else {
			p.collector.Record(t.ID, sample)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll reads sysUpTime and sums the in/out octet counters across all
// interfaces.
func (p *Poller) poll(client *g.GoSNMP) (stats.Sample, error) {
	sample := stats.Sample{At: time.Now()}

	res, err := client.Get([]string{oidSysUpTime})
	if err != nil {
		return sample, err
	}
	for _, pdu := range res.Variables {
		if pdu.Type == g.TimeTicks {
			ticks := g.ToBigInt(pdu.Value).Int64()
			sample.Uptime = time.Duration(ticks) * 10 * time.Millisecond
		}
	}

	var rx, tx uint64
	if err := client.BulkWalk(oidIfInOctets, func(pdu g.SnmpPDU) error {
		rx += g.ToBigInt(pdu.Value).Uint64()
		return nil
	}); err != nil {
		return sample, err
	}
	if err := client.BulkWalk(oidIfOutOctets, func(pdu g.SnmpPDU) error {
		tx += g.ToBigInt(pdu.Value).Uint64()
		return nil
	}); err != nil {
		return sample, err
	}

	sample.RxOctets = rx
	sample.TxOctets = tx
	return sample, nil
}
