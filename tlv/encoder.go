// File: tlv/encoder.go
// License: Apache-2.0
//
// Status stream builder, the inverse of Parser, used by the ring simulator
// and by tests to synthesize hardware output.

package tlv

import (
	"encoding/binary"

	"github.com/momentics/hioload-monrx/api"
)

// Encoder appends records to a status stream.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder { return &Encoder{} }

// Bytes returns the encoded stream.
func (e *Encoder) Bytes() []byte { return e.buf }

// Reset empties the stream.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Record appends one raw record.
func (e *Encoder) Record(tag Tag, payload []byte) *Encoder {
	var hdr [HeaderLen]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(tag))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(payload)))
	e.buf = append(e.buf, hdr[:]...)
	e.buf = append(e.buf, payload...)
	return e
}

// PPDUStart opens a PPDU.
func (e *Encoder) PPDUStart(id api.PPDUID, freq uint16, tsf uint64) *Encoder {
	v := make([]byte, 12)
	binary.LittleEndian.PutUint16(v[0:2], uint16(id))
	binary.LittleEndian.PutUint16(v[2:4], freq)
	binary.LittleEndian.PutUint64(v[4:12], tsf)
	return e.Record(TagPPDUStart, v)
}

// User announces one user of a (multi-user) PPDU.
func (e *Encoder) User(idx, tid uint8, peer uint16) *Encoder {
	v := []byte{idx, tid, 0, 0}
	binary.LittleEndian.PutUint16(v[2:4], peer)
	return e.Record(TagPPDUStartUser, v)
}

// LSIG encodes a legacy rate in 500 kbps units.
func (e *Encoder) LSIG(rate uint16) *Encoder {
	v := make([]byte, 4)
	binary.LittleEndian.PutUint16(v[0:2], rate)
	return e.Record(TagPHYLSIG, v)
}

// HTSIG encodes an HT MCS index (0..31) which implies the stream count.
func (e *Encoder) HTSIG(htMCS uint8, bw api.Bandwidth, shortGI, stbc, ldpc bool) *Encoder {
	flags := bw.Code() & 0x1
	if shortGI {
		flags |= 1 << 2
	}
	if stbc {
		flags |= 1 << 3
	}
	if ldpc {
		flags |= 1 << 4
	}
	return e.Record(TagPHYHTSIG, []byte{htMCS & 0x1f, flags, 0, 0})
}

func sigA(bw api.Bandwidth, gi api.GuardInterval, mcs, nss uint8, stbc, ldpc bool) []byte {
	b0 := bw.Code() | gi.Code()<<2
	if stbc {
		b0 |= 1 << 4
	}
	if ldpc {
		b0 |= 1 << 5
	}
	return []byte{b0, mcs & 0xf, nss & 0x7, 0}
}

// VHTSIGA encodes a VHT PHY header.
func (e *Encoder) VHTSIGA(bw api.Bandwidth, gi api.GuardInterval, mcs, nss uint8) *Encoder {
	return e.Record(TagPHYVHTSIGA, sigA(bw, gi, mcs, nss, false, true))
}

// HESIGA encodes an HE PHY header.
func (e *Encoder) HESIGA(bw api.Bandwidth, gi api.GuardInterval, mcs, nss uint8) *Encoder {
	return e.Record(TagPHYHESIGA, sigA(bw, gi, mcs, nss, false, true))
}

// RSSI encodes the combined and per-chain signal strength in dBm.
func (e *Encoder) RSSI(comb int8, chains ...int8) *Encoder {
	v := make([]byte, 2+len(chains))
	v[0] = byte(comb)
	v[1] = byte(len(chains))
	for i, c := range chains {
		v[2+i] = byte(c)
	}
	return e.Record(TagPHYRSSI, v)
}

// MPDUStart opens an MPDU of user.
func (e *Encoder) MPDUStart(user uint8) *Encoder {
	return e.Record(TagMPDUStart, []byte{user, 0, 0, 0})
}

// MPDUHeader carries the 802.11 header snapshot.
func (e *Encoder) MPDUHeader(hdr []byte) *Encoder {
	return e.Record(TagMPDUHeader, hdr)
}

// MPDUEnd closes an MPDU.
func (e *Encoder) MPDUEnd(user uint8, fcsErr bool) *Encoder {
	var f byte
	if fcsErr {
		f = 1
	}
	return e.Record(TagMPDUEnd, []byte{user, f, 0, 0})
}

// MSDUEnd closes one payload unit.
func (e *Encoder) MSDUEnd() *Encoder {
	return e.Record(TagMSDUEnd, []byte{0, 0, 0, 0})
}

// UserStats encodes end-of-PPDU counters of one user.
func (e *Encoder) UserStats(u api.UserStats) *Encoder {
	v := make([]byte, 12)
	v[0] = u.Index
	v[1] = u.TID
	binary.LittleEndian.PutUint16(v[2:4], uint16(u.MPDUOK))
	binary.LittleEndian.PutUint16(v[4:6], uint16(u.MPDUErr))
	binary.LittleEndian.PutUint32(v[8:12], uint32(u.Bytes))
	return e.Record(TagPPDUEndUserStats, v)
}

// PPDUEnd closes the PHY part of the PPDU.
func (e *Encoder) PPDUEnd() *Encoder { return e.Record(TagPPDUEnd, nil) }

// Done appends the terminal status marker.
func (e *Encoder) Done() *Encoder { return e.Record(TagPPDUEndStatusDone, nil) }

// Truncation appends the zero-length empty record that ends a stream early.
func (e *Encoder) Truncation() *Encoder { return e.Record(TagEmpty, nil) }

// The completion marker at the head of every status buffer:
//
//	tag:16 | valid:16 | first:16 | reserved:16
//
// valid is the number of stream bytes after the marker, first the offset
// within them of the first record header that starts in this buffer, or
// NoRecordStart.
const MarkerLen = HeaderLen + 4

// NoRecordStart marks a buffer filled entirely by the middle of one record.
const NoRecordStart = 0xffff

// maxValid is the largest stream extent the marker can describe.
const maxValid = NoRecordStart - 1

// Split cuts stream into status buffer images of at most bufSize bytes.
// Records freely straddle images; each marker records where the first
// record of its image begins.
func Split(stream []byte, bufSize int) [][]byte {
	room := min(bufSize-MarkerLen, maxValid)
	if room <= 0 {
		return nil
	}
	starts := recordStarts(stream)
	var out [][]byte
	for off := 0; off < len(stream); off += room {
		n := min(len(stream)-off, room)
		first := NoRecordStart
		for len(starts) > 0 && starts[0] < off+n {
			if starts[0] >= off && first == NoRecordStart {
				first = starts[0] - off
			}
			starts = starts[1:]
		}
		img := make([]byte, MarkerLen, MarkerLen+n)
		binary.LittleEndian.PutUint16(img[0:2], uint16(TagStatusBufferDone))
		binary.LittleEndian.PutUint16(img[2:4], uint16(n))
		binary.LittleEndian.PutUint16(img[4:6], uint16(first))
		out = append(out, append(img, stream[off:off+n]...))
	}
	return out
}

// recordStarts lists the offsets of every record header in stream.
func recordStarts(stream []byte) []int {
	var starts []int
	for off := 0; off+HeaderLen <= len(stream); {
		starts = append(starts, off)
		off += HeaderLen + int(binary.LittleEndian.Uint16(stream[off+2:off+4]))
	}
	return starts
}

// FirstRecord returns the offset within Payload(buf) of the first record
// header starting in buf; ok is false when none does.
func FirstRecord(buf []byte) (off int, ok bool) {
	if len(buf) < MarkerLen {
		return 0, false
	}
	off = int(binary.LittleEndian.Uint16(buf[4:6]))
	if off == NoRecordStart || off >= len(Payload(buf)) {
		return 0, false
	}
	return off, true
}

// HasCompletionMarker reports whether hardware has finished a status buffer.
func HasCompletionMarker(buf []byte) bool {
	return len(buf) >= MarkerLen && Tag(binary.LittleEndian.Uint16(buf[0:2])) == TagStatusBufferDone
}

// Payload returns the stream bytes hardware wrote after the marker. The
// extent is clamped to the buffer; anything past it is stale memory.
func Payload(buf []byte) []byte {
	if len(buf) < MarkerLen {
		return nil
	}
	n := int(binary.LittleEndian.Uint16(buf[2:4]))
	return buf[MarkerLen:min(MarkerLen+n, len(buf))]
}

// IsBufferEnd reports whether b starts with the padding record that marks
// the rest of a buffer unused. Only meaningful at a record boundary.
func IsBufferEnd(b []byte) bool {
	return len(b) >= HeaderLen && Tag(binary.LittleEndian.Uint16(b[0:2])) == TagBufferEnd
}

// ClearCompletionMarker resets the marker tag before a buffer goes back to
// hardware. The other marker fields are rewritten with the next marker.
func ClearCompletionMarker(buf []byte) {
	if len(buf) >= MarkerLen {
		clear(buf[:2])
	}
}

// SetCompletionMarker is what hardware does once it has finished a buffer;
// the marker fields written with the data are kept.
func SetCompletionMarker(buf []byte) {
	if len(buf) >= MarkerLen {
		binary.LittleEndian.PutUint16(buf[0:2], uint16(TagStatusBufferDone))
	}
}
