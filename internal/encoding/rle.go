// Package encoding holds the compact binary forms of chunk grids.
package encoding

import (
	"encoding/binary"
	"fmt"
)

// AppendRLE appends ids as (id, run_len) uvarint pairs.
func AppendRLE(dst []byte, ids []uint16) []byte {
	for i := 0; i < len(ids); {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b && run < 1<<31; j++ {
			run++
		}
		dst = binary.AppendUvarint(dst, uint64(b))
		dst = binary.AppendUvarint(dst, uint64(run))
		i += run
	}
	return dst
}

// DecodeRLE reads pairs from raw until want ids have been produced and
// returns the ids and the number of bytes consumed.
func DecodeRLE(raw []byte, want int) ([]uint16, int, error) {
	out := make([]uint16, 0, want)
	i := 0
	for len(out) < want {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, 0, fmt.Errorf("block id too large: %d", b)
		}
		if run == 0 || run > uint64(want-len(out)) {
			return nil, 0, fmt.Errorf("run of %d at %d overflows %d ids", run, i, want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(b))
		}
	}
	return out, i, nil
}
