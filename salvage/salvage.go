// Package salvage decodes and judges the salvage-progress structure of a
// Hardspace: Shipbreaker process.
package salvage

import (
	"fmt"
	"math"
	"strconv"

	"salvagewatch/pod"
	"salvagewatch/process"
)

// DefaultSignature matches constant fields of the game's salvage indicator
// controller. Several places in memory match it; candidates are told apart by
// Plausibility.
const DefaultSignature = "01 00 00 00 02 00 00 00 01 00 00 00 00 00 00 00 ?? ?? ?? ?? ?? ?? ?? ?? 01 01 01"

// StructOffset is the distance from a signature match to the three salvage floats
const StructOffset = 40

// ReadingSize is the size in bytes of the salvage floats
const ReadingSize = 12

// DefaultTargetPercent is the salvage percentage the objective asks for
const DefaultTargetPercent = 95

// Reading is one snapshot of the game's salvage counters
type Reading struct {
	TotalSalvageableValue float32
	SalvagedValue         float32
	DestroyedValue        float32
}

func (r Reading) String() string {
	return fmt.Sprintf("total=%.0f salvaged=%.0f destroyed=%.0f", r.TotalSalvageableValue, r.SalvagedValue, r.DestroyedValue)
}

// ReadReading reads the three floats at addr in a single read
func ReadReading(proc process.Process, addr process.ProcessMemoryAddress) (Reading, error) {
	return pod.ReadT[Reading](proc, addr)
}

// DecodeReading decodes a reading from ReadingSize little-endian bytes
func DecodeReading(data []byte) (Reading, error) {
	return pod.DecodeT[Reading](data)
}

// Encode returns the in-memory layout of r
func (r Reading) Encode() []byte {
	return pod.WriteT(r)
}

// Plausibility bounds the values a genuine salvage structure can hold.
// The numbers are tuned to the game's ship values.
type Plausibility struct {
	MinTotal  float32 // smallest total salvageable value of a ship
	MaxTotal  float32 // largest total salvageable value of a ship
	MinValue  float32 // lower bound of salvaged and destroyed values
	Tolerance float32 // float noise allowed above the total
}

var DefaultPlausibility = Plausibility{
	MinTotal:  1_000_000,
	MaxTotal:  100_000_000,
	MinValue:  -1,
	Tolerance: 10,
}

// IsPlausible reports whether r looks like a genuine in-game salvage state.
// NaN values fail every comparison and are rejected.
func (p Plausibility) IsPlausible(r Reading) bool {
	total := r.TotalSalvageableValue
	return total >= p.MinTotal && total <= p.MaxTotal &&
		r.SalvagedValue >= p.MinValue && r.SalvagedValue <= total+p.Tolerance &&
		r.DestroyedValue >= p.MinValue && r.DestroyedValue <= total+p.Tolerance &&
		total >= r.SalvagedValue+r.DestroyedValue-p.Tolerance
}

// IsPlausible checks r against DefaultPlausibility
func IsPlausible(r Reading) bool {
	return DefaultPlausibility.IsPlausible(r)
}

// ObjectiveStatus is the state of the "reach N% salvage" objective
type ObjectiveStatus int

const (
	InProgress ObjectiveStatus = iota
	Reached
	Failed
)

func (s ObjectiveStatus) String() string {
	switch s {
	case InProgress:
		return "in-progress"
	case Reached:
		return "reached"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func ratio(value, total float32) float32 {
	if total == 0 {
		return 0
	}
	return value / total
}

// Objective computes the objective status for a target salvage percentage.
// Too much destroyed value fails the objective even when the salvage target is met.
func Objective(r Reading, targetPercent float32) ObjectiveStatus {
	salvageRatio := ratio(r.SalvagedValue, r.TotalSalvageableValue)
	damageRatio := ratio(r.DestroyedValue, r.TotalSalvageableValue)

	objectiveRatio := targetPercent / 100
	allowedDamageRatio := (100 - targetPercent) / 100

	if damageRatio > allowedDamageRatio {
		return Failed
	}
	if salvageRatio >= objectiveRatio {
		return Reached
	}
	return InProgress
}

// ProgressText formats value/total as a percentage with one decimal, rounded
// half to even like the in-game indicator. A zero total gives "0%".
func ProgressText(value, total float32) string {
	if total == 0 {
		return "0%"
	}

	percent := float64(value / total * 100)
	rounded := math.RoundToEven(percent*10) / 10
	return strconv.FormatFloat(rounded, 'f', 1, 64) + "%"
}

// Progress is a reading projected for display
type Progress struct {
	Reading
	SalvageProgress string
	DestroyProgress string
	Objective       ObjectiveStatus
}

// Project derives the display values of r
func Project(r Reading, targetPercent float32) Progress {
	return Progress{
		Reading:         r,
		SalvageProgress: ProgressText(r.SalvagedValue, r.TotalSalvageableValue),
		DestroyProgress: ProgressText(r.DestroyedValue, r.TotalSalvageableValue),
		Objective:       Objective(r, targetPercent),
	}
}
