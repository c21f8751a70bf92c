// Package addressing maps a byte stream onto a two-level tree of block
// references: a header block listing single-indirect blocks, each listing
// data blocks.
// Copyright (C) 2025 Alex Gaetano Padula & VFSLite Contributors
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 2.1 of the License, or (at your option) any later version.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public
// License along with this library; if not, write to the Free Software
// Foundation, Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301  USA
package addressing

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidCapacity  = errors.New("capacity must be positive")
	ErrCapacityOverflow = errors.New("capacity product overflows")
	ErrValueOutOfRange  = errors.New("value out of range for capacities")
	ErrTooManyBlocks    = errors.New("block count exceeds addressable capacity")
)

// CompositeIndex is a linear value decomposed into mixed-radix digits, one
// per capacity. The last capacity is the least significant.
type CompositeIndex struct {
	value      int
	capacities []int
	digits     []int
}

// NewCompositeIndex decomposes value under the given capacities.
func NewCompositeIndex(value int, capacities ...int) (CompositeIndex, error) {
	product, err := Product(capacities...)
	if err != nil {
		return CompositeIndex{}, err
	}
	if value < 0 || value >= product {
		return CompositeIndex{}, fmt.Errorf("%w: %d not in [0, %d)", ErrValueOutOfRange, value, product)
	}

	digits := make([]int, len(capacities))
	rest := value
	for i := len(capacities) - 1; i >= 0; i-- {
		digits[i] = rest % capacities[i]
		rest /= capacities[i]
	}

	return CompositeIndex{
		value:      value,
		capacities: append([]int(nil), capacities...),
		digits:     digits,
	}, nil
}

// Value returns the linear value.
func (c CompositeIndex) Value() int {
	return c.value
}

// Digits returns a copy of the per-level digits, most significant first.
func (c CompositeIndex) Digits() []int {
	return append([]int(nil), c.digits...)
}

// Digit returns the digit for level i.
func (c CompositeIndex) Digit(i int) int {
	return c.digits[i]
}

// Compose turns digits back into a linear value.
func Compose(digits []int, capacities ...int) (int, error) {
	if len(digits) != len(capacities) {
		return 0, fmt.Errorf("%w: %d digits for %d capacities", ErrValueOutOfRange, len(digits), len(capacities))
	}
	if _, err := Product(capacities...); err != nil {
		return 0, err
	}

	value := 0
	for i, c := range capacities {
		if digits[i] < 0 || digits[i] >= c {
			return 0, fmt.Errorf("%w: digit %d is %d, capacity %d", ErrValueOutOfRange, i, digits[i], c)
		}
		value = value*c + digits[i]
	}
	return value, nil
}

// Product multiplies capacities, rejecting non-positive values and overflow.
func Product(capacities ...int) (int, error) {
	if len(capacities) == 0 {
		return 0, fmt.Errorf("%w: no capacities", ErrInvalidCapacity)
	}

	product := 1
	for _, c := range capacities {
		if c <= 0 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidCapacity, c)
		}
		if product > math.MaxInt/c {
			return 0, ErrCapacityOverflow
		}
		product *= c
	}
	return product, nil
}

// BlockSizes reports how a stream of n data blocks fills the tree:
// headerSlots single-indirect blocks are in use and the last one holds
// lastFill references.
func BlockSizes(n, headerCapacity, indirectCapacity int) (headerSlots, lastFill int, err error) {
	if headerCapacity <= 0 || indirectCapacity <= 0 {
		return 0, 0, ErrInvalidCapacity
	}
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: negative block count %d", ErrValueOutOfRange, n)
	}
	if n == 0 {
		return 0, 0, nil
	}

	headerSlots = (n + indirectCapacity - 1) / indirectCapacity
	if headerSlots > headerCapacity {
		return 0, 0, fmt.Errorf("%w: %d blocks need %d header slots, have %d",
			ErrTooManyBlocks, n, headerSlots, headerCapacity)
	}

	lastFill = n - (headerSlots-1)*indirectCapacity
	return headerSlots, lastFill, nil
}
