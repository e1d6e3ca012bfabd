package microtcp

import "sync/atomic"

// counters accumulate per-endpoint traffic totals. They are written by the
// endpoint's single owning goroutine and read atomically so that metric
// scrapes may snapshot them from another goroutine.
type counters struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	packetsLost     atomic.Uint64
}

// Counters is a point-in-time snapshot of an endpoint's traffic totals.
// Byte totals count payload bytes; packet totals count every segment on the
// wire including pure ACKs. PacketsLost counts segments discarded for failing
// integrity checks.
type Counters struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	PacketsLost     uint64
}

// Counters returns a snapshot of the endpoint's traffic totals. It is safe to
// call concurrently with endpoint operations.
func (e *Endpoint) Counters() Counters {
	return Counters{
		PacketsSent:     e.counters.packetsSent.Load(),
		PacketsReceived: e.counters.packetsReceived.Load(),
		BytesSent:       e.counters.bytesSent.Load(),
		BytesReceived:   e.counters.bytesReceived.Load(),
		PacketsLost:     e.counters.packetsLost.Load(),
	}
}
