package ogg

// The page checksum is a plain CRC-32 with polynomial 0x04c11db7:
// no reflection, zero initial value and no final xor.
// It is not compatible with hash/crc32 which only implements the reflected form.
const crcPolynomial = 0x04c11db7

var crcTable = makeCRCTable()

func makeCRCTable() (t [256]uint32) {
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ crcPolynomial
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return
}

func crcUpdate(crc uint32, p []byte) uint32 {
	for _, b := range p {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

var zeroChecksum [4]byte

// pageChecksum computes the checksum of a complete page as if its checksum field was zero.
func pageChecksum(page []byte) uint32 {
	crc := crcUpdate(0, page[:crcOffset])
	crc = crcUpdate(crc, zeroChecksum[:])
	return crcUpdate(crc, page[crcOffset+4:])
}
