// Package level maps accumulated XP totals onto the level curve.
//
// The curve is shared with the web client: the XP required to go from
// level n-1 to level n is floor(100 * (n-1)^1.5), capped at MaxLevel.
// Every function here is pure; the points engine recomputes the level
// on every ledger write and the reconciler re-derives it during audits.
package level

import "math"

const (
	// BaseXP scales the whole curve.
	BaseXP = 100
	// Exponent controls how steep later levels get.
	Exponent = 1.5
	// MaxLevel is the documented cap; totals beyond the cap stay at MaxLevel.
	MaxLevel = 100
)

// XPForLevel returns the XP needed to advance from level-1 to level.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	return int64(math.Floor(BaseXP * math.Pow(float64(level-1), Exponent)))
}

// TotalXPForLevel returns the cumulative XP required to reach level.
func TotalXPForLevel(level int) int64 {
	var total int64
	for i := 2; i <= level; i++ {
		total += XPForLevel(i)
	}
	return total
}

// ForTotal returns the level reached with totalXP accumulated points.
// Defined for all inputs: negative totals map to level 1.
func ForTotal(totalXP int64) int {
	lvl := 1
	var needed int64
	for lvl < MaxLevel {
		next := XPForLevel(lvl + 1)
		if totalXP < needed+next {
			break
		}
		needed += next
		lvl++
	}
	return lvl
}

// ProgressWithin returns the XP accumulated inside the current level.
func ProgressWithin(totalXP int64) int64 {
	if totalXP < 0 {
		return 0
	}
	return totalXP - TotalXPForLevel(ForTotal(totalXP))
}

// ToNext returns how much XP is missing to reach the next level.
// Returns 0 at MaxLevel.
func ToNext(totalXP int64) int64 {
	lvl := ForTotal(totalXP)
	if lvl >= MaxLevel {
		return 0
	}
	remaining := TotalXPForLevel(lvl+1) - totalXP
	if remaining < 0 {
		return 0
	}
	return remaining
}
