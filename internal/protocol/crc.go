package protocol

// crcPoly is the CRC-32 polynomial in its normal (MSB-first) form. The device
// computes the checksum without bit reflection and without a final xor, so the
// reflected tables in hash/crc32 cannot be reused here.
const crcPoly = 0x04C11DB7

var crcTable = makeCRCTable()

func makeCRCTable() [256]uint32 {
	var t [256]uint32
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ crcPoly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}

// CRC32 continues crc over data. Start a fresh checksum with crc = 0.
func CRC32(data []byte, crc uint32) uint32 {
	for _, b := range data {
		crc = crcTable[byte(crc>>24)^b] ^ crc<<8
	}
	return crc
}
