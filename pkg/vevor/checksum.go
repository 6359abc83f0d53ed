// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vevor

import (
	"fmt"
	"sort"

	"github.com/sigurn/crc8"
)

// Checksum is a strategy for computing a frame's terminal byte. The
// algorithm the heater uses is not documented, so every strategy reports
// whether it is provisional.
type Checksum interface {
	// Name is the identifier used in configuration
	Name() string
	// Compute returns the expected terminal byte for a complete frame
	Compute(frame []byte) byte
	// Provisional is true when the algorithm has not been confirmed
	Provisional() bool
}

// Checksum strategy names
const (
	ChecksumModularSum = "modular-sum"
	ChecksumXOR        = "xor"
	ChecksumCRC8Maxim  = "crc8-maxim"
	ChecksumUnverified = "unverified"
)

// checksumRange returns bytes [2, N-2] of a frame: command, length code and
// body, without the sync marker, device id or terminal byte
func checksumRange(frame []byte) []byte {
	if len(frame) < 3 {
		return nil
	}
	return frame[2 : len(frame)-1]
}

// ModularSum adds the covered bytes modulo 256. This is what the field
// firmware transmits.
type ModularSum struct{}

func (ModularSum) Name() string      { return ChecksumModularSum }
func (ModularSum) Provisional() bool { return true }

func (ModularSum) Compute(frame []byte) byte {
	var sum byte
	for _, b := range checksumRange(frame) {
		sum += b
	}
	return sum
}

// XOR folds the covered bytes with exclusive-or
type XOR struct{}

func (XOR) Name() string      { return ChecksumXOR }
func (XOR) Provisional() bool { return true }

func (XOR) Compute(frame []byte) byte {
	var x byte
	for _, b := range checksumRange(frame) {
		x ^= b
	}
	return x
}

// CRC8 runs a CRC-8 over the covered bytes
type CRC8 struct {
	name  string
	table *crc8.Table
}

// NewCRC8Maxim returns the CRC-8/MAXIM (Dallas 1-Wire) candidate
func NewCRC8Maxim() *CRC8 {
	return &CRC8{name: ChecksumCRC8Maxim, table: crc8.MakeTable(crc8.CRC8_MAXIM)}
}

func (c *CRC8) Name() string      { return c.name }
func (c *CRC8) Provisional() bool { return true }

func (c *CRC8) Compute(frame []byte) byte {
	return crc8.Checksum(checksumRange(frame), c.table)
}

// Unverified accepts any terminal byte. It exists for captures where the
// checksum is known not to match any candidate.
type Unverified struct{}

func (Unverified) Name() string      { return ChecksumUnverified }
func (Unverified) Provisional() bool { return true }

func (Unverified) Compute(frame []byte) byte {
	if len(frame) == 0 {
		return 0
	}
	return frame[len(frame)-1]
}

var checksumFactories = map[string]func() Checksum{
	ChecksumModularSum: func() Checksum { return ModularSum{} },
	ChecksumXOR:        func() Checksum { return XOR{} },
	ChecksumCRC8Maxim:  func() Checksum { return NewCRC8Maxim() },
	ChecksumUnverified: func() Checksum { return Unverified{} },
}

// ChecksumByName builds a strategy from its configuration name
func ChecksumByName(name string) (Checksum, error) {
	factory, ok := checksumFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown checksum strategy %q (known: %v)", name, ChecksumNames())
	}
	return factory(), nil
}

// ChecksumNames lists the known strategy names
func ChecksumNames() []string {
	names := make([]string, 0, len(checksumFactories))
	for name := range checksumFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AppendChecksum appends the checksum computed by c to frame
func AppendChecksum(frame []byte, c Checksum) []byte {
	frame = append(frame, 0)
	frame[len(frame)-1] = c.Compute(frame)
	return frame
}
