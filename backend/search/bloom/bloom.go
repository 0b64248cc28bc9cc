// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package bloom adapts a bits-and-blooms filter to the persisted
// models.BloomFilterData form of a search index.
package bloom

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/efchatnet/eftrust/backend/models"
)

const (
	// DefaultM is the default filter size in bits.
	DefaultM = 2048
	// DefaultK is the default number of hash functions.
	DefaultK = 7

	wordBits = 64
)

var ErrInvalidFilter = errors.New("bloom: invalid filter parameters")

type Filter struct {
	filter *bloom.BloomFilter
}

// New returns an empty filter with k hash functions and at least m bits.
// m is rounded up to whole 64-bit words so a restored filter hashes the same.
func New(m, k uint64) *Filter {
	if m == 0 {
		m = DefaultM
	}
	if k == 0 {
		k = DefaultK
	}
	m = (m + wordBits - 1) / wordBits * wordBits
	return &Filter{filter: bloom.New(uint(m), uint(k))}
}

// OptimalParameters returns m and k for n elements at false positive rate p.
func OptimalParameters(n uint64, p float64) (m, k uint64) {
	if n == 0 {
		n = 1
	}
	bm, bk := bloom.EstimateParameters(uint(n), p)
	return uint64(bm), uint64(bk)
}

// FromData restores a filter from its persisted form: M and K plus the bit
// words in little-endian order.
func FromData(d models.BloomFilterData) (*Filter, error) {
	if d.M == 0 || d.K == 0 || d.M%wordBits != 0 || uint64(len(d.Bits)) != d.M/8 {
		return nil, ErrInvalidFilter
	}
	words := make([]uint64, len(d.Bits)/8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(d.Bits[i*8:])
	}
	return &Filter{filter: bloom.From(words, uint(d.K))}, nil
}

// Data returns the persisted form of the filter.
func (f *Filter) Data() models.BloomFilterData {
	words := f.filter.BitSet().Bytes()
	bits := make([]byte, 0, len(words)*8)
	for _, w := range words {
		bits = binary.LittleEndian.AppendUint64(bits, w)
	}
	return models.BloomFilterData{Bits: bits, M: f.M(), K: f.K()}
}

func (f *Filter) Add(item []byte) {
	f.filter.Add(item)
}

// Contains never returns false for an added item.
func (f *Filter) Contains(item []byte) bool {
	return f.filter.Test(item)
}

// EstimateFalsePositiveRate returns (1 - e^(-kn/m))^k.
func (f *Filter) EstimateFalsePositiveRate(n uint64) float64 {
	m, k := float64(f.M()), float64(f.K())
	return math.Pow(1-math.Exp(-k*float64(n)/m), k)
}

func (f *Filter) M() uint64 { return uint64(f.filter.Cap()) }
func (f *Filter) K() uint64 { return uint64(f.filter.K()) }
