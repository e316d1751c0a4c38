package detector

import "swap-detector/internal/domain"

// OnConnected registers a callback for a successfully opened subscription.
// Connection callbacks run while the subscription is changing hands and must
// not call Start, StopAsset or Stop synchronously.
func (d *Detector) OnConnected(fn func()) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.onConnected = append(d.onConnected, fn)
}

// OnDisconnected registers a callback for a torn down subscription.
func (d *Detector) OnDisconnected(fn func()) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.onDisconnected = append(d.onDisconnected, fn)
}

// OnTrade registers a callback for detected trades.
// Callbacks run on fetch goroutines and may be invoked concurrently.
func (d *Detector) OnTrade(fn func(domain.TradeEvent)) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.onTrade = append(d.onTrade, fn)
}

// OnHeartbeat registers a callback for batches that produced no trade.
func (d *Detector) OnHeartbeat(fn func(domain.Heartbeat)) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.onHeartbeat = append(d.onHeartbeat, fn)
}

// OnConnectionStale registers a callback for stale connection detection.
func (d *Detector) OnConnectionStale(fn func(domain.StaleInfo)) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.onStale = append(d.onStale, fn)
}

// OnError registers a callback for subscription failures.
func (d *Detector) OnError(fn func(error)) {
	d.handlersMu.Lock()
	defer d.handlersMu.Unlock()
	d.onError = append(d.onError, fn)
}

func (d *Detector) emitConnected() {
	d.handlersMu.RLock()
	handlers := d.onConnected
	d.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

func (d *Detector) emitDisconnected() {
	d.handlersMu.RLock()
	handlers := d.onDisconnected
	d.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

func (d *Detector) emitTrade(t domain.TradeEvent) {
	d.handlersMu.RLock()
	handlers := d.onTrade
	d.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(t)
	}
}

// heartbeat records and emits a heartbeat.
func (d *Detector) heartbeat(h domain.Heartbeat) {
	d.metrics.RecordHeartbeat(h.Reason.String())

	d.handlersMu.RLock()
	handlers := d.onHeartbeat
	d.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(h)
	}
}

func (d *Detector) emitStale(info domain.StaleInfo) {
	d.handlersMu.RLock()
	handlers := d.onStale
	d.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(info)
	}
}

func (d *Detector) emitError(err error) {
	d.handlersMu.RLock()
	handlers := d.onError
	d.handlersMu.RUnlock()
	for _, fn := range handlers {
		fn(err)
	}
}
