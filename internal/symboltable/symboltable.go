// Package symboltable holds the static per-symbol metadata the Entry
// Calculator and Capacity Accountant need: tick size, point value, and
// micro-equivalent classification (spec.md §4.1, §4.4).
package symboltable

// Class is the contract-size classification used for capacity accounting.
type Class int

const (
	// ClassMicro contracts count 1 unit of micro-equivalent per quantity.
	ClassMicro Class = iota
	// ClassMini contracts count 10 units of micro-equivalent per quantity.
	ClassMini
)

// Spec describes one symbol's static trading metadata.
type Spec struct {
	TickSize   float64
	PointValue float64
	Class      Class
}

const defaultTickSize = 0.25

var table = map[string]Spec{
	"ES":  {TickSize: 0.25, PointValue: 50, Class: ClassMini},
	"NQ":  {TickSize: 0.25, PointValue: 20, Class: ClassMini},
	"YM":  {TickSize: 1.0, PointValue: 5, Class: ClassMini},
	"RTY": {TickSize: 0.1, PointValue: 50, Class: ClassMini},
	"GC":  {TickSize: 0.1, PointValue: 100, Class: ClassMini},
	"CL":  {TickSize: 0.01, PointValue: 1000, Class: ClassMini},

	"MES": {TickSize: 0.25, PointValue: 5, Class: ClassMicro},
	"MNQ": {TickSize: 0.25, PointValue: 2, Class: ClassMicro},
	"MYM": {TickSize: 1.0, PointValue: 0.5, Class: ClassMicro},
	"M2K": {TickSize: 0.1, PointValue: 5, Class: ClassMicro},
	"MGC": {TickSize: 0.1, PointValue: 10, Class: ClassMicro},
	"MCL": {TickSize: 0.01, PointValue: 100, Class: ClassMicro},
}

// Lookup returns the static spec for symbol. Unknown symbols get a placeholder
// Spec: the default tick size, a point value of 1, and a micro
// classification — callers that
// need to treat "unknown" as a hard error (spec.md §4.10) should use Known.
func Lookup(symbol string) Spec {
	if s, ok := table[symbol]; ok {
		return s
	}
	return Spec{TickSize: defaultTickSize, PointValue: 1, Class: ClassMicro}
}

// Known reports whether symbol has a static entry.
func Known(symbol string) bool {
	_, ok := table[symbol]
	return ok
}

// TickSize returns the symbol's tick size, defaulting to 0.25 for unknown
// symbols per spec.md §4.1.
func TickSize(symbol string) float64 {
	return Lookup(symbol).TickSize
}

// PointValue returns the dollar value of one point of price movement for one
// contract of symbol.
func PointValue(symbol string) float64 {
	return Lookup(symbol).PointValue
}

// MicroEquivalent converts a quantity of contracts in symbol into
// micro-equivalent units per spec.md §4.4 ("mini" counts 10, "micro" counts
// 1, both per unit of quantity).
func MicroEquivalent(symbol string, quantity int) int {
	spec := Lookup(symbol)
	switch spec.Class {
	case ClassMini:
		return quantity * 10
	default:
		return quantity
	}
}
