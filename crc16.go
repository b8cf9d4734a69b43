// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

package nitrofs

// crc16Table is the reflected 0x8005 (MODBUS) table used by ROM header checksums.
var crc16Table = makeCRC16Table(0xA001)

// makeCRC16Table builds a reflected CRC-16 lookup table.
func makeCRC16Table(poly uint16) [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) //nolint:gosec // i < 256
		for range 8 {
			if crc&1 != 0 {
				crc = crc>>1 ^ poly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}

	return table
}

// crc16 returns the MODBUS CRC-16 of data (init 0xFFFF).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc>>8 ^ crc16Table[byte(crc)^b]
	}

	return crc
}
