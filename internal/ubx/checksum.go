package ubx

// checksum implements the UBX frame integrity check.
// This is the 8-bit Fletcher algorithm (RFC 1145) run over class, id,
// length and payload; the sync bytes are excluded.
func checksum(data []byte) (ckA, ckB byte) {
	for _, b := range data {
		ckA += b
		ckB += ckA
	}
	return ckA, ckB
}

// checksumOK reports whether a complete frame (sync through CK_B) carries a
// matching checksum.
func checksumOK(frame []byte) bool {
	if len(frame) < headerLen+checksumLen {
		return false
	}
	a, b := checksum(frame[2 : len(frame)-checksumLen])
	return a == frame[len(frame)-2] && b == frame[len(frame)-1]
}
