// Package tier implements ordered step-function tables keyed by trade notional.
package tier

import (
	"errors"
	"fmt"
	"math"
)

// Band maps every input strictly below UpTo (and at or above the previous band's bound) to Value.
type Band struct {
	UpTo  float64
	Value float64
}

// Table is an ascending sequence of bands. The last band should be open-ended (UpTo = +Inf).
type Table []Band

// Open is the upper bound used for the final, unbounded band.
var Open = math.Inf(1)

// Lookup returns the value of the first band whose bound exceeds x. Inputs beyond the last bound
// take the last band's value.
func (t Table) Lookup(x float64) float64 {
	if len(t) == 0 {
		return 0
	}
	for _, band := range t {
		if x < band.UpTo {
			return band.Value
		}
	}
	return t[len(t)-1].Value
}

// Validate checks that the table is non-empty and strictly ascending.
func (t Table) Validate() error {
	if len(t) == 0 {
		return errors.New("tier table is empty")
	}
	for i := 1; i < len(t); i++ {
		if t[i].UpTo <= t[i-1].UpTo {
			return fmt.Errorf("tier bound %d (%v) must exceed bound %d (%v)", i, t[i].UpTo, i-1, t[i-1].UpTo)
		}
	}
	return nil
}
