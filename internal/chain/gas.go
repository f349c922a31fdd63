package chain

import (
	"errors"
	"math"
)

// ErrOutOfGas is returned when a receiver exceeds its execution budget.
var ErrOutOfGas = errors.New("chain: out of gas")

// GasMeter tracks the execution budget handed to receiver hooks. Hooks
// charge it cooperatively; the ledger also checks it after the hook
// returns, so a hook that ignores ErrOutOfGas still fails.
type GasMeter struct {
	limit    uint64
	used     uint64
	bounded  bool
	exceeded bool
}

// NewGasMeter returns a meter allowing limit units.
func NewGasMeter(limit uint64) *GasMeter {
	return &GasMeter{limit: limit, bounded: true}
}

// UnboundedGas returns a meter that never runs out.
func UnboundedGas() *GasMeter {
	return &GasMeter{limit: math.MaxUint64}
}

// Consume charges amount units.
func (g *GasMeter) Consume(amount uint64) error {
	if !g.bounded {
		g.used += amount
		return nil
	}
	if g.exceeded || amount > g.limit-g.used {
		g.used = g.limit
		g.exceeded = true
		return ErrOutOfGas
	}
	g.used += amount
	return nil
}

func (g *GasMeter) Used() uint64 { return g.used }

func (g *GasMeter) Remaining() uint64 { return g.limit - g.used }

// Exceeded reports whether a charge was ever refused.
func (g *GasMeter) Exceeded() bool { return g.exceeded }
