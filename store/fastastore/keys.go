// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastastore

import (
	"bytes"
	"encoding/binary"
)

// Key tags distinguish the two record kinds sharing one kv.DB, following
// the teacher's internal/store convention of a single marshaled key per
// logical row (there, a BlastRecordKey; here, a tagged match or pair
// key) rather than one database per table.
const (
	matchTag byte = 'M'
	pairTag  byte = 'P'
)

var order = binary.BigEndian

func putString(buf *bytes.Buffer, s string) {
	var b [8]byte
	order.PutUint64(b[:], uint64(len(s)))
	buf.Write(b[:])
	buf.WriteString(s)
}

// matchKey identifies a persisted MatchResult by (specimen id, primer
// sequence), per spec §4.5 write_pairs key.
func matchKey(specimenID, primer string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(matchTag)
	putString(&buf, specimenID)
	putString(&buf, primer)
	return buf.Bytes()
}

// pairKey identifies a persisted PrimerPair by (forward_match_id,
// reverse_match_id), per spec §4.5 write_pairs key.
func pairKey(forwardMatchID, reverseMatchID string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(pairTag)
	putString(&buf, forwardMatchID)
	putString(&buf, reverseMatchID)
	return buf.Bytes()
}
