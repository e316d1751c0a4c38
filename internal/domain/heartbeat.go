package domain

// HeartbeatReason tells why a received log batch did not produce a trade.
type HeartbeatReason string

const (
	ReasonNotProgram HeartbeatReason = "not_program"
	ReasonDuplicate  HeartbeatReason = "duplicate"
	ReasonTxNotFound HeartbeatReason = "tx_not_found"
	ReasonFetchError HeartbeatReason = "fetch_error"
	ReasonTxFailed   HeartbeatReason = "tx_failed"
	ReasonParseError HeartbeatReason = "parse_error"
	ReasonNoMatch    HeartbeatReason = "no_match"
)

// AllHeartbeatReasons lists every reason in a stable order.
var AllHeartbeatReasons = []HeartbeatReason{
	ReasonNotProgram,
	ReasonDuplicate,
	ReasonTxNotFound,
	ReasonFetchError,
	ReasonTxFailed,
	ReasonParseError,
	ReasonNoMatch,
}

// String returns the string representation of HeartbeatReason.
func (r HeartbeatReason) String() string {
	return string(r)
}

// Heartbeat is emitted for every received batch that did not yield a trade.
type Heartbeat struct {
	Signature string
	Processed bool // the transaction was fetched and inspected
	Matched   bool // the batch produced a trade; heartbeats never do
	Reason    HeartbeatReason
	Expected  []string // watched assets, set for no_match
	Found     []string // mints present in the transaction, set for no_match
}

// StaleInfo describes a connection declared dead by the health monitor.
type StaleInfo struct {
	SecondsSinceActivity float64
	MonitoredAssets      []string
}
