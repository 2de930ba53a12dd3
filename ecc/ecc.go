// Package ecc implements the two redundancy codes used for data
// stored in OTP memory: a nibble-parity code that expands every
// 4 bits into a byte and corrects a single bit error per byte, and
// a majority code that stores three copies and votes per bit.
//
// The codecs are pure transforms and never touch hardware.
package ecc

import (
	"errors"
	"fmt"
)

var (
	// ErrBadChecksum is returned by decoders that detected corruption
	// they could not correct. The decoded data is still written.
	ErrBadChecksum = errors.New("ecc: uncorrectable error")
	// ErrInvalidParameter is returned for encoded buffers whose length
	// doesn't match the code.
	ErrInvalidParameter = errors.New("ecc: invalid parameter")
)

// Decode table entry layout.
const (
	// uncorrectable is the high nibble of decode table entries for
	// bytes more than one bit away from any code word.
	uncorrectable = 0xf
)

// Result summarizes a nibble-parity decode.
type Result struct {
	// Corrected is the number of encoded bytes with a single
	// corrected bit.
	Corrected int
	// Uncorrectable is the number of encoded bytes with multi-bit
	// errors.
	Uncorrectable int
}

// NibbleParityEncodedLen returns the encoded length of n bytes.
func NibbleParityEncodedLen(n int) int {
	return n * 2
}

// NibbleParityEncode encodes src into dst, which must have room for
// NibbleParityEncodedLen(len(src)) bytes. The low nibble of every
// source byte is encoded first. It returns the number of bytes
// written.
func NibbleParityEncode(dst, src []byte) int {
	if len(dst) < NibbleParityEncodedLen(len(src)) {
		panic("ecc: short nibble-parity destination")
	}
	for i, b := range src {
		dst[2*i] = nibbleEncTbl[b&0xf]
		dst[2*i+1] = nibbleEncTbl[b>>4]
	}
	return len(src) * 2
}

// NibbleParityDecode decodes the nibble-parity encoded src into dst,
// correcting single bit errors in every encoded byte. The length of
// src must be even and dst must have room for len(src)/2 bytes.
//
// Encoded bytes with multi-bit errors are decoded best effort and
// reported by returning ErrBadChecksum after all of src has been
// decoded.
func NibbleParityDecode(dst, src []byte) (Result, error) {
	var res Result
	if len(src)%2 != 0 {
		return res, fmt.Errorf("%w: nibble-parity length %d is odd", ErrInvalidParameter, len(src))
	}
	if len(dst) < len(src)/2 {
		return res, fmt.Errorf("%w: nibble-parity destination too short", ErrInvalidParameter)
	}
	for i := 0; i < len(src); i += 2 {
		lo := nibbleDecTbl[src[i]]
		hi := nibbleDecTbl[src[i+1]]
		for _, e := range [...]byte{lo, hi} {
			switch e >> 4 {
			case 0:
			case uncorrectable:
				res.Uncorrectable++
			default:
				res.Corrected++
			}
		}
		dst[i/2] = lo&0xf | hi<<4
	}
	if res.Uncorrectable > 0 {
		return res, ErrBadChecksum
	}
	return res, nil
}

// MajorityEncodedLen returns the encoded length of n bytes.
func MajorityEncodedLen(n int) int {
	return n * 3
}

// MajorityEncode stores three copies of src in dst, at offsets 0,
// len(src) and 2*len(src). It returns the number of bytes written.
func MajorityEncode(dst, src []byte) int {
	n := len(src)
	if len(dst) < MajorityEncodedLen(n) {
		panic("ecc: short majority destination")
	}
	copy(dst[0*n:], src)
	copy(dst[1*n:], src)
	copy(dst[2*n:], src)
	return 3 * n
}

// MajorityDecode votes every bit of the three copies in src and
// stores the result in dst. The length of src must be a multiple of
// 3 and dst must have room for len(src)/3 bytes.
func MajorityDecode(dst, src []byte) (int, error) {
	if len(src)%3 != 0 {
		return 0, fmt.Errorf("%w: majority length %d is not a multiple of 3", ErrInvalidParameter, len(src))
	}
	n := len(src) / 3
	if len(dst) < n {
		return 0, fmt.Errorf("%w: majority destination too short", ErrInvalidParameter)
	}
	c0, c1, c2 := src[:n], src[n:2*n], src[2*n:]
	for i := range n {
		b0, b1, b2 := c0[i], c1[i], c2[i]
		dst[i] = (b1 & (b0 | b2)) | (b0 & b2)
	}
	return n, nil
}
