package protocol

// checksumModulus keeps the sum inside 31 bits
const checksumModulus = 0x7FFFFFFF

// ContentChecksum hashes message text for ack matching. Each byte is
// weighted by its one-based position so transpositions change the sum,
// and a zero result maps to 1 so the checksum can never be mistaken for
// an unset field.
func ContentChecksum(text []byte) uint32 {
	var sum uint64
	for i, b := range text {
		sum += uint64(b) * uint64(i+1)
	}
	sum %= checksumModulus
	if sum == 0 {
		sum = 1
	}
	return uint32(sum)
}
