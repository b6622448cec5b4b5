package model

// Account aggregates the positions held by one address.
type Account struct {
	Address             string
	OpenPositionCount   uint64
	ClosedPositionCount uint64
	PositionCount       uint64
}
