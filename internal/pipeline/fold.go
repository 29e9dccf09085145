package pipeline

import "math"

// Fold accumulates the values $sum, $avg, $min and $max look at. Numbers
// and strings count; every other value is ignored. The interpreter and the
// engine's aggregate functions both fold through it, so both paths produce
// the same float64 for the same input order.
type Fold struct {
	sum            kbnSum
	n              int
	minNum, maxNum *float64
	minStr, maxStr *string
}

// Add folds one value.
func (f *Fold) Add(v any) {
	switch x := v.(type) {
	case float64:
		f.sum.add(x)
		f.n++
		if f.minNum == nil || x < *f.minNum {
			f.minNum = &x
		}
		if f.maxNum == nil || x > *f.maxNum {
			f.maxNum = &x
		}
	case string:
		if f.minStr == nil || x < *f.minStr {
			f.minStr = &x
		}
		if f.maxStr == nil || x > *f.maxStr {
			f.maxStr = &x
		}
	}
}

// Result returns the value of op over everything added so far. $sum of
// nothing is 0; $avg, $min and $max of nothing are nil. Numbers sort below
// strings, so $min prefers a number and $max a string.
func (f *Fold) Result(op AccOp) any {
	switch op {
	case AccSum:
		return f.sum.total()
	case AccAvg:
		if f.n == 0 {
			return nil
		}
		return f.sum.total() / float64(f.n)
	case AccMin:
		if f.minNum != nil {
			return *f.minNum
		}
		if f.minStr != nil {
			return *f.minStr
		}
	case AccMax:
		if f.maxStr != nil {
			return *f.maxStr
		}
		if f.maxNum != nil {
			return *f.maxNum
		}
	}
	return nil
}

// kbnSum is Kahan-Babuska-Neumaier compensated summation.
type kbnSum struct {
	sum, err float64
}

func (k *kbnSum) add(x float64) {
	t := k.sum + x
	if math.Abs(k.sum) > math.Abs(x) {
		k.err += (k.sum - t) + x
	} else {
		k.err += (x - t) + k.sum
	}
	k.sum = t
}

func (k *kbnSum) total() float64 {
	if math.IsInf(k.err, 0) || math.IsNaN(k.err) {
		return k.sum
	}
	return k.sum + k.err
}
