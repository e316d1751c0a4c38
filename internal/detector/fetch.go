package detector

import (
	"go.uber.org/zap"

	"swap-detector/internal/domain"
	"swap-detector/internal/solana"
)

// handleNotification turns one log batch into exactly one trade or heartbeat.
// Candidate batches are fetched asynchronously.
func (d *Detector) handleNotification(n solana.LogNotification) {
	d.metrics.RecordBatch()
	d.touch()

	if n.Err != nil {
		d.heartbeat(domain.Heartbeat{Signature: n.Signature, Reason: domain.ReasonTxFailed})
		return
	}

	if !IsCandidate(n.Logs, d.cfg.ProgramID) {
		d.heartbeat(domain.Heartbeat{Signature: n.Signature, Reason: domain.ReasonNotProgram})
		return
	}
	d.metrics.RecordCandidate()

	if !d.admit(n.Signature) {
		d.heartbeat(domain.Heartbeat{Signature: n.Signature, Reason: domain.ReasonDuplicate})
		return
	}

	d.fetches.Go(func() error {
		d.process(n)
		return nil
	})
}

// admit reserves a signature for fetching. Returns false if it was already
// processed or is in flight.
func (d *Detector) admit(sig string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.processed.Contains(sig) {
		return false
	}
	if _, ok := d.inFlight[sig]; ok {
		return false
	}
	d.inFlight[sig] = struct{}{}
	return true
}

// finish releases an in-flight signature and optionally marks it processed.
func (d *Detector) finish(sig string, processed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inFlight, sig)
	if processed {
		d.processed.Add(sig)
	}
}

func (d *Detector) touch() {
	d.mu.Lock()
	d.lastActivity = d.now()
	d.mu.Unlock()
}

// process fetches a candidate transaction and classifies it.
func (d *Detector) process(n solana.LogNotification) {
	d.metrics.AddInFlight(1)
	defer d.metrics.AddInFlight(-1)

	sig := n.Signature
	log := d.log.With(zap.String("signature", sig))

	tx, err := d.rpc.GetTransaction(d.ctx, sig)
	if err != nil {
		d.finish(sig, true)
		log.Warn("fetch transaction failed", zap.Error(err))
		d.heartbeat(domain.Heartbeat{Signature: sig, Reason: domain.ReasonFetchError})
		return
	}
	if tx == nil {
		// Not indexed yet; a later log for the same signature retries.
		d.finish(sig, false)
		log.Debug("transaction not found")
		d.heartbeat(domain.Heartbeat{Signature: sig, Reason: domain.ReasonTxNotFound})
		return
	}
	if tx.Meta != nil && tx.Meta.Err != nil {
		d.finish(sig, true)
		d.heartbeat(domain.Heartbeat{Signature: sig, Processed: true, Reason: domain.ReasonTxFailed})
		return
	}

	balances, err := ExtractBalances(tx)
	if err != nil {
		d.finish(sig, true)
		log.Warn("parse transaction failed", zap.Error(err))
		d.heartbeat(domain.Heartbeat{Signature: sig, Processed: true, Reason: domain.ReasonParseError})
		return
	}

	watched := d.WatchedAssets()
	match, ok := d.classifier.Classify(balances, watched)
	d.finish(sig, true)
	if !ok {
		d.heartbeat(domain.Heartbeat{
			Signature: sig,
			Processed: true,
			Reason:    domain.ReasonNoMatch,
			Expected:  watched,
			Found:     balances.Mints(),
		})
		return
	}

	if tx.Slot == 0 {
		tx.Slot = n.Slot
	}
	trade := domain.NewTradeEvent(
		match.AssetID,
		match.NativeAmount,
		match.AssetAmount,
		match.IsBuy,
		match.UserID,
		sig,
		d.tradeTimestamp(tx),
	)

	log.Info("trade detected",
		zap.String("asset", trade.AssetID),
		zap.String("side", trade.Side().String()),
		zap.Float64("native", trade.NativeAmount),
		zap.Float64("asset_amount", trade.AssetAmount),
		zap.Float64("price", trade.Price),
		zap.String("user", trade.UserID))
	d.metrics.RecordTrade(trade.Side().String())
	d.emitTrade(trade)
}

// tradeTimestamp resolves the block time in seconds: from the transaction,
// then from the slot, then the local clock.
func (d *Detector) tradeTimestamp(tx *solana.Transaction) float64 {
	if tx.BlockTime > 0 {
		return float64(tx.BlockTime)
	}
	if tx.Slot > 0 {
		bt, err := d.rpc.GetBlockTime(d.ctx, tx.Slot)
		if err != nil {
			d.log.Debug("block time lookup failed", zap.Int64("slot", tx.Slot), zap.Error(err))
		} else if bt != nil && *bt > 0 {
			return float64(*bt)
		}
	}
	return float64(d.now().UnixNano()) / 1e9
}
