package mutate

import (
	"encoding/binary"
	"math/rand"
)

// interesting value tables for widths 1/2/4.
var (
	interesting8  = []int32{-128, -1, 0, 1, 16, 32, 64, 100, 127}
	interesting16 = []int32{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}
	interesting32 = []int32{-2147483648, -100663046, -32769, 32768, 65535, 65536, 100663045, 2147483647}
)

// bitFlip XORs a single random bit in a random byte. No-op on an empty
// buffer.
func bitFlip(rng *rand.Rand, buf []byte) []byte {
	if len(buf) == 0 {
		return buf
	}
	pos := rng.Intn(len(buf))
	bit := rng.Intn(8)
	buf[pos] ^= 1 << uint(bit)
	return buf
}

// byteFlip XORs w consecutive bytes (w clamped to buf length) with
// 0xFF at a random position.
func byteFlip(rng *rand.Rand, buf []byte) []byte {
	if len(buf) == 0 {
		return buf
	}
	widths := []int{1, 2, 4}
	w := widths[rng.Intn(len(widths))]
	if w > len(buf) {
		w = len(buf)
	}
	pos := rng.Intn(len(buf) - w + 1)
	for i := 0; i < w; i++ {
		buf[pos+i] ^= 0xFF
	}
	return buf
}

// arithmetic reads a little-endian signed integer of width 2, 4, or 8,
// adds a nonzero delta in [-35,35], and writes it back. No-ops if buf
// is too small for the chosen width.
func arithmetic(rng *rand.Rand, buf []byte) []byte {
	widths := []int{2, 4, 8}
	w := widths[rng.Intn(len(widths))]
	if len(buf) < w {
		return buf
	}
	pos := rng.Intn(len(buf) - w + 1)

	delta := rng.Intn(71) - 35 // [-35, 35]
	if delta == 0 {
		delta = 1
	}

	switch w {
	case 2:
		v := int16(binary.LittleEndian.Uint16(buf[pos : pos+2]))
		binary.LittleEndian.PutUint16(buf[pos:pos+2], uint16(int32(v)+int32(delta)))
	case 4:
		v := int32(binary.LittleEndian.Uint32(buf[pos : pos+4]))
		binary.LittleEndian.PutUint32(buf[pos:pos+4], uint32(v+int32(delta)))
	case 8:
		v := int64(binary.LittleEndian.Uint64(buf[pos : pos+8]))
		binary.LittleEndian.PutUint64(buf[pos:pos+8], uint64(v+int64(delta)))
	}
	return buf
}

// interestingValue overwrites a random position with a value drawn from
// one of the fixed interesting-value tables, width 1/2/4. No-op if buf
// is too small for the chosen width.
func interestingValue(rng *rand.Rand, buf []byte) []byte {
	type table struct {
		width  int
		values []int32
	}
	tables := []table{
		{1, interesting8},
		{2, interesting16},
		{4, interesting32},
	}
	tb := tables[rng.Intn(len(tables))]
	if len(buf) < tb.width {
		return buf
	}
	pos := rng.Intn(len(buf) - tb.width + 1)
	value := tb.values[rng.Intn(len(tb.values))]

	switch tb.width {
	case 1:
		buf[pos] = byte(value & 0xFF)
	case 2:
		binary.LittleEndian.PutUint16(buf[pos:pos+2], uint16(int16(value)))
	case 4:
		binary.LittleEndian.PutUint32(buf[pos:pos+4], uint32(value))
	}
	return buf
}

// chunkReplacement swaps two k-byte chunks (k in {2,4,8}) at random
// positions. No-op if buf is smaller than 2k.
func chunkReplacement(rng *rand.Rand, buf []byte) []byte {
	sizes := []int{2, 4, 8}
	k := sizes[rng.Intn(len(sizes))]
	if len(buf) < 2*k {
		return buf
	}
	pos1 := rng.Intn(len(buf) - k + 1)
	pos2 := rng.Intn(len(buf) - k + 1)

	tmp := make([]byte, k)
	copy(tmp, buf[pos1:pos1+k])
	copy(buf[pos1:pos1+k], buf[pos2:pos2+k])
	copy(buf[pos2:pos2+k], tmp)
	return buf
}

// duplicateChunk copies a k-byte chunk (k in {1,2,4,8}) from a random
// source position and inserts it at a random destination position,
// growing the buffer by k. No-op if buf is smaller than k.
func duplicateChunk(rng *rand.Rand, buf []byte) []byte {
	sizes := []int{1, 2, 4, 8}
	k := sizes[rng.Intn(len(sizes))]
	if len(buf) < k {
		return buf
	}
	src := rng.Intn(len(buf) - k + 1)
	dst := rng.Intn(len(buf) + 1)

	chunk := make([]byte, k)
	copy(chunk, buf[src:src+k])

	out := make([]byte, 0, len(buf)+k)
	out = append(out, buf[:dst]...)
	out = append(out, chunk...)
	out = append(out, buf[dst:]...)
	return out
}

// trim deletes a k-byte window (k a power of two up to 128) at a random
// position, refusing if that would shrink the buffer below 5% of its
// pre-mutation length or if len < 2k.
func trim(rng *rand.Rand, buf []byte) []byte {
	sizes := []int{1, 2, 4, 8, 16, 32, 64, 128}
	k := sizes[rng.Intn(len(sizes))]
	if len(buf) < 2*k {
		return buf
	}
	if float64(len(buf)-k) < float64(len(buf))*0.05 {
		return buf
	}
	pos := rng.Intn(len(buf) - k + 1)

	out := make([]byte, 0, len(buf)-k)
	out = append(out, buf[:pos]...)
	out = append(out, buf[pos+k:]...)
	return out
}

// splice combines the head of buf with the tail of other at random cut
// points. No-op (returns buf unchanged) if either is shorter than 2
// bytes.
func splice(rng *rand.Rand, buf, other []byte) []byte {
	if len(buf) < 2 || len(other) < 2 {
		return buf
	}
	c1 := 1 + rng.Intn(len(buf)-1)
	c2 := 1 + rng.Intn(len(other)-1)

	out := make([]byte, 0, c1+len(other)-c2)
	out = append(out, buf[:c1]...)
	out = append(out, other[c2:]...)
	return out
}
