package utils

import "golang.org/x/exp/constraints"

// Min returns the smaller value between two numbers.
func Min[T constraints.Ordered](x, y T) T {
	if x < y {
		return x
	}
	return y
}

// Max returns the bigger value between two numbers.
func Max[T constraints.Ordered](x, y T) T {
	if x > y {
		return x
	}
	return y
}

// MinOf returns the smallest of its arguments.
func MinOf[T constraints.Ordered](first T, rest ...T) T {
	m := first
	for _, v := range rest {
		m = Min(m, v)
	}
	return m
}

// MaxOf returns the biggest of its arguments.
func MaxOf[T constraints.Ordered](first T, rest ...T) T {
	m := first
	for _, v := range rest {
		m = Max(m, v)
	}
	return m
}

// Abs returns the absolute value of x.
func Abs[T constraints.Signed | constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}
