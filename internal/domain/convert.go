package domain

import "math"

// psiToBarDivisor converts PSI to bar (spec.md §3: "divide by 6.895,
// round to 2 decimals").
const psiToBarDivisor = 6.895

// PSIToBar converts a pressure reading from PSI (as received from the
// sensor) to bar, rounded to two decimal places. Pressure is always
// stored and broadcast in bar (spec.md invariant §3.4).
func PSIToBar(psi float64) float64 {
	bar := psi / psiToBarDivisor
	return math.Round(bar*100) / 100
}
