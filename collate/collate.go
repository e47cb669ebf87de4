// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package collate provides the comparator capability consumed by the
// sorter and analyzer. A Comparator never inspects key internals beyond
// what its own implementation defines; the sorter and the reservoir
// treat keys as opaque byte strings ordered solely through it.
package collate

import "bytes"

// Order is the result of comparing two keys.
type Order int

const (
	Less    Order = -1
	Equal   Order = 0
	Greater Order = 1
)

// Comparator orders opaque byte-string keys. Implementations may encode
// collation sequences and NULL-handling however they see fit; the sorter
// only ever calls Compare.
type Comparator interface {
	Compare(a, b []byte) Order
}

// Bytewise is the simplest Comparator: plain byte-string ordering, the
// same ordering bytes.Compare provides. It is mostly useful for sorting
// keys that are not column-structured (e.g. already-encoded composite
// keys, or tests).
type Bytewise struct{}

func (Bytewise) Compare(a, b []byte) Order {
	return Order(bytes.Compare(a, b))
}

// Func adapts a plain comparison function to the Comparator interface.
type Func func(a, b []byte) Order

func (f Func) Compare(a, b []byte) Order { return f(a, b) }
