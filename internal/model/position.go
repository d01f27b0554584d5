package model

import "time"

// Side is the direction of a position or trade.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Sign returns +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Position is the simulator's open position. At most one exists at a time.
type Position struct {
	Side            Side
	EntryPrice      float64 // size-weighted when pyramiding
	EntryTime       time.Time
	EntryBar        int
	Size            float64
	EntryCommission float64
}

// UnrealizedPnL marks the position to price, before exit commission.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.Side.Sign() * (price - p.EntryPrice) * p.Size
}

// Add grows the position by size units filled at price.
func (p *Position) Add(size, price, commission float64) {
	total := p.Size + size
	p.EntryPrice = (p.EntryPrice*p.Size + price*size) / total
	p.Size = total
	p.EntryCommission += commission
}
