package ecc

// nibbleEncTbl maps a nibble to its code word: the nibble in the low
// bits, followed by three Hamming parity bits and an overall parity
// bit. Code words are at least 4 bits apart.
var nibbleEncTbl = [16]byte{
	0x00, 0xb1, 0xd2, 0x63, 0xe4, 0x55, 0x36, 0x87,
	0x78, 0xc9, 0xaa, 0x1b, 0x9c, 0x2d, 0x4e, 0xff,
}

// nibbleDecTbl maps an encoded byte to its corrected nibble in the
// low bits. The high bits hold zero for code words, the index+1 of
// the corrected bit for single bit errors, or 0xf for bytes that
// can't be corrected. The low bits of uncorrectable entries are the
// raw data bits.
var nibbleDecTbl = [256]byte{
	0x00, 0x10, 0x20, 0xf3, 0x30, 0xf5, 0xf6, 0x87, 0x40, 0xf9, 0xfa, 0x5b, 0xfc, 0x6d, 0x7e, 0xff, // 0x00
	0x50, 0xf1, 0xf2, 0x4b, 0xf4, 0x75, 0x66, 0xf7, 0xf8, 0x2b, 0x1b, 0x0b, 0x8c, 0xfd, 0xfe, 0x3b, // 0x10
	0x60, 0xf1, 0xf2, 0x73, 0xf4, 0x4d, 0x56, 0xf7, 0xf8, 0x3d, 0x8a, 0xfb, 0x1d, 0x0d, 0xfe, 0x2d, // 0x20
	0xf0, 0x81, 0x36, 0xf3, 0x26, 0xf5, 0x06, 0x16, 0x78, 0xf9, 0xfa, 0x6b, 0xfc, 0x5d, 0x46, 0xff, // 0x30
	0x70, 0xf1, 0xf2, 0x63, 0xf4, 0x55, 0x4e, 0xf7, 0xf8, 0x89, 0x3e, 0xfb, 0x2e, 0xfd, 0x0e, 0x1e, // 0x40
	0xf0, 0x35, 0x82, 0xf3, 0x15, 0x05, 0xf6, 0x25, 0x68, 0xf9, 0xfa, 0x7b, 0xfc, 0x45, 0x5e, 0xff, // 0x50
	0xf0, 0x23, 0x13, 0x03, 0x84, 0xf5, 0xf6, 0x33, 0x58, 0xf9, 0xfa, 0x43, 0xfc, 0x7d, 0x6e, 0xff, // 0x60
	0x48, 0xf1, 0xf2, 0x53, 0xf4, 0x65, 0x76, 0xf7, 0x08, 0x18, 0x28, 0xfb, 0x38, 0xfd, 0xfe, 0x8f, // 0x70
	0x80, 0xf1, 0xf2, 0x37, 0xf4, 0x27, 0x17, 0x07, 0xf8, 0x79, 0x6a, 0xfb, 0x5c, 0xfd, 0xfe, 0x47, // 0x80
	0xf0, 0x61, 0x72, 0xf3, 0x4c, 0xf5, 0xf6, 0x57, 0x3c, 0xf9, 0xfa, 0x8b, 0x0c, 0x1c, 0x2c, 0xff, // 0x90
	0xf0, 0x51, 0x4a, 0xf3, 0x74, 0xf5, 0xf6, 0x67, 0x2a, 0xf9, 0x0a, 0x1a, 0xfc, 0x8d, 0x3a, 0xff, // 0xa0
	0x11, 0x01, 0xf2, 0x21, 0xf4, 0x31, 0x86, 0xf7, 0xf8, 0x41, 0x5a, 0xfb, 0x6c, 0xfd, 0xfe, 0x7f, // 0xb0
	0xf0, 0x49, 0x52, 0xf3, 0x64, 0xf5, 0xf6, 0x77, 0x19, 0x09, 0xfa, 0x29, 0xfc, 0x39, 0x8e, 0xff, // 0xc0
	0x22, 0xf1, 0x02, 0x12, 0xf4, 0x85, 0x32, 0xf7, 0xf8, 0x59, 0x42, 0xfb, 0x7c, 0xfd, 0xfe, 0x6f, // 0xd0
	0x34, 0xf1, 0xf2, 0x83, 0x04, 0x14, 0x24, 0xf7, 0xf8, 0x69, 0x7a, 0xfb, 0x44, 0xfd, 0xfe, 0x5f, // 0xe0
	0xf0, 0x71, 0x62, 0xf3, 0x54, 0xf5, 0xf6, 0x4f, 0x88, 0xf9, 0xfa, 0x3f, 0xfc, 0x2f, 0x1f, 0x0f, // 0xf0
}
