package byteorder

import (
	"encoding/binary"
)

// https://linux.die.net/man/3/ntohs
//
// h = host, n = network (big-endian), v = vax (little-endian)
// s = short = 16 bit, l = long = 32 bit
//
// the chat wire format is network order everywhere except inside the login
// cipher, which reads and writes its words little-endian.

func Htons(val uint16) []byte {
	return binary.BigEndian.AppendUint16(nil, val)
}

func Htonl(val uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, val)
}

func Ntohs(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

func Ntohl(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}

func Htovl(val uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, val)
}

func Vtohl(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

// VtohlSlice splits buf into little-endian words. len(buf) must be a
// multiple of 4.
func VtohlSlice(buf []byte) []uint32 {
	words := make([]uint32, len(buf)/4)
	for i := range words {
		words[i] = Vtohl(buf[i*4 : i*4+4])
	}
	return words
}
