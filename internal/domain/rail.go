package domain

import (
	"fmt"
	"strings"
)

// Rail identifies the payment network that carries a transfer.
type Rail string

const (
	RailInternal Rail = "INTERNAL"
	RailA        Rail = "RAIL_A" // real-time interbank
	RailB        Rail = "RAIL_B" // batch clearing
	RailC        Rail = "RAIL_C" // QR based
)

// Rails lists every supported rail in a stable order.
var Rails = []Rail{RailInternal, RailA, RailB, RailC}

// request types accepted from callers, mapped onto rails.
var railAliases = map[string]Rail{
	"INTERNAL":  RailInternal,
	"RAIL_A":    RailA,
	"REALTIME":  RailA,
	"INTERBANK": RailA,
	"RAIL_B":    RailB,
	"BATCH":     RailB,
	"CLEARING":  RailB,
	"RAIL_C":    RailC,
	"QR":        RailC,
}

// ParseRail resolves a caller supplied transfer type into a rail.
func ParseRail(raw string) (Rail, error) {
	rail, ok := railAliases[strings.ToUpper(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("unsupported transfer type: %q", raw)
	}
	return rail, nil
}

// IsExternal reports whether the rail leaves the internal ledger.
func (r Rail) IsExternal() bool {
	return r != RailInternal
}

func (r Rail) String() string {
	return string(r)
}
