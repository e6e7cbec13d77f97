package game

import (
	"fmt"
	"math/rand/v2"
)

type Color string
type Parity string
type Range string

const (
	ColorGreen  Color = "verde"
	ColorBlue   Color = "azul"
	ColorPurple Color = "morado"

	ParityEven Parity = "par"
	ParityOdd  Parity = "impar"

	RangeLow  Range = "1-18"
	RangeHigh Range = "19-36"

	MaxNumber = 36
)

var purpleNumbers = map[int]bool{
	1: true, 3: true, 5: true, 7: true, 9: true, 12: true, 14: true, 16: true, 18: true,
	19: true, 21: true, 23: true, 25: true, 27: true, 30: true, 32: true, 34: true, 36: true,
}

// Outcome is a drawn number and its derived labels. Parity and Range are
// empty for zero.
type Outcome struct {
	Number int
	Color  Color
	Parity Parity
	Range  Range
}

// OutcomeFor maps a number in [0, 36] to its labels.
func OutcomeFor(n int) (Outcome, error) {
	if n < 0 || n > MaxNumber {
		return Outcome{}, fmt.Errorf("number %d out of range [0, %d]", n, MaxNumber)
	}
	if n == 0 {
		return Outcome{Number: 0, Color: ColorGreen}, nil
	}

	o := Outcome{Number: n, Color: ColorBlue, Parity: ParityOdd, Range: RangeLow}
	if purpleNumbers[n] {
		o.Color = ColorPurple
	}
	if n%2 == 0 {
		o.Parity = ParityEven
	}
	if n > 18 {
		o.Range = RangeHigh
	}
	return o, nil
}

// DrawNumber picks a uniformly random winning number. Fairness matters here,
// unpredictability does not.
func DrawNumber() int {
	return rand.IntN(MaxNumber + 1)
}
