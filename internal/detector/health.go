package detector

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"swap-detector/internal/domain"
)

// monitor checks subscription liveness every HealthInterval until the
// subscription identified by stop is torn down.
func (d *Detector) monitor(stop chan struct{}) {
	ticker := time.NewTicker(d.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if d.checkHealth(stop) {
				return
			}
		}
	}
}

// checkHealth declares the subscription stale when nothing arrived within
// StaleAfter or its stream closed, and schedules a reconnect.
// Returns true when the monitor should exit.
func (d *Detector) checkHealth(stop chan struct{}) bool {
	d.mu.Lock()
	if d.subStop != stop {
		d.mu.Unlock()
		return true
	}
	since := d.now().Sub(d.lastActivity)
	lost := d.streamLost
	if !lost && since <= d.cfg.StaleAfter {
		d.mu.Unlock()
		return false
	}
	assets := d.watchedLocked()
	d.mu.Unlock()

	d.log.Warn("connection stale",
		zap.Duration("since_activity", since),
		zap.Bool("stream_closed", lost),
		zap.Strings("assets", assets))
	d.metrics.RecordStale()
	d.emitStale(domain.StaleInfo{
		SecondsSinceActivity: since.Seconds(),
		MonitoredAssets:      assets,
	})

	go d.reconnect(stop)
	return true
}

// reconnect tears down the stale subscription, waits ReconnectBackoff and
// reopens it with the watch set it had. Reopening repeats on the same
// schedule until it succeeds, the detector closes, or an explicit stop
// intervenes.
func (d *Detector) reconnect(stale chan struct{}) {
	d.lifecycle.Lock()
	d.mu.Lock()
	current := d.subStop
	snapshot := d.watchedLocked()
	d.mu.Unlock()
	if current != stale {
		d.lifecycle.Unlock()
		return
	}
	d.stopLocked()
	epoch := d.epoch
	d.lifecycle.Unlock()

	d.metrics.RecordReconnect()
	d.log.Info("reconnecting", zap.Strings("assets", snapshot), zap.Duration("backoff", d.cfg.ReconnectBackoff))

	policy := backoff.WithContext(backoff.NewConstantBackOff(d.cfg.ReconnectBackoff), d.ctx)
	for {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-d.ctx.Done():
			timer.Stop()
			return
		}

		done, err := d.restore(epoch, snapshot)
		if done {
			return
		}
		d.log.Warn("reconnect failed, retrying", zap.Error(err))
	}
}

// restore re-adds the snapshot to the watch set and reopens the subscription.
// Returns done=false only when opening failed and should be retried.
func (d *Detector) restore(epoch uint64, snapshot []string) (bool, error) {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.ctx.Err() != nil || d.epoch != epoch {
		return true, nil
	}

	d.mu.Lock()
	for _, asset := range snapshot {
		key := strings.ToLower(asset)
		if _, ok := d.watch[key]; !ok {
			d.watch[key] = asset
		}
	}
	n := len(d.watch)
	active := d.sub != nil
	d.mu.Unlock()
	d.metrics.SetWatchedAssets(n)

	if active || n == 0 {
		return true, nil
	}
	if err := d.openLocked(d.ctx); err != nil {
		return false, err
	}
	return true, nil
}
