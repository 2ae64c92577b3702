package job

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
)

// Job record framing: metaLen(4B BE) | meta JSON | payload | crc32c(meta|payload)
//
// The metadata and the payload are framed separately so listings can decode
// bookkeeping fields without copying large payloads around, and the trailing
// CRC catches torn or corrupted records on read.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord is returned when a stored record fails its CRC or framing check.
var ErrCorruptRecord = errors.New("job: corrupt record")

// Encode frames a job into bytes for storage.
func Encode(j *Job) ([]byte, error) {
	meta, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	mlen := uint32(len(meta))
	out := make([]byte, 0, 4+len(meta)+len(j.Payload)+4)
	var mb [4]byte
	binary.BigEndian.PutUint32(mb[:], mlen)
	out = append(out, mb[:]...)
	out = append(out, meta...)
	out = append(out, j.Payload...)
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, j.Payload)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	out = append(out, cb[:]...)
	return out, nil
}

// Decode parses a stored record back into a job.
func Decode(b []byte) (*Job, error) {
	if len(b) < 8 {
		return nil, ErrCorruptRecord
	}
	mlen := binary.BigEndian.Uint32(b[:4])
	if int(4+mlen+4) > len(b) {
		return nil, ErrCorruptRecord
	}
	metaEnd := 4 + int(mlen)
	meta := b[4:metaEnd]
	payload := b[metaEnd : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, meta)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return nil, ErrCorruptRecord
	}
	var j Job
	if err := json.Unmarshal(meta, &j); err != nil {
		return nil, ErrCorruptRecord
	}
	if len(payload) > 0 {
		j.Payload = append(json.RawMessage(nil), payload...)
	}
	return &j, nil
}
