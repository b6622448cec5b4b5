package model

// ProtocolID keys the protocol singleton.
const ProtocolID = "protocol"

// Protocol tracks protocol-wide position counters.
type Protocol struct {
	ID                      string
	OpenPositionCount       uint64
	CumulativePositionCount uint64
}
