// File: tlv/parser.go
// License: Apache-2.0
//
// Streaming status parser and Transmission-Info accumulator.

package tlv

import (
	"encoding/binary"

	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/sirupsen/logrus"
)

// Stats counts parser outcomes since creation.
type Stats struct {
	Records    uint64
	Unknown    uint64
	Completed  uint64
	Truncated  uint64
	Superseded uint64
	Duplicates uint64
	Orphans    uint64
}

// Parser turns status buffers into completed TxInfo records. It is
// single-writer: only the status reaper of one radio feeds it.
type Parser struct {
	table   Table
	log     logrus.FieldLogger
	metrics *control.RadioMetrics
	infos   api.ObjectPool[*api.TxInfo]

	info   *api.TxInfo
	active bool
	done   bool

	// Record reassembly across buffer boundaries.
	hdr      [HeaderLen]byte
	hdrN     int
	inRecord bool
	tag      Tag
	need     int
	scratch  []byte

	stats Stats
}

// NewParser builds a parser over table; nil selects DefaultTable.
func NewParser(table Table, log logrus.FieldLogger, m *control.RadioMetrics) *Parser {
	if table == nil {
		table = DefaultTable()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Parser{
		table:   table,
		log:     log,
		metrics: m,
		infos: pool.NewSyncPool(func() *api.TxInfo {
			return &api.TxInfo{
				Users:  make([]api.UserStats, 0, api.MaxUsers),
				Header: make([]byte, 0, api.MaxHeaderSnapshot),
			}
		}),
		scratch: make([]byte, 0, 256),
	}
}

// SetInfoPool replaces the pool Transmission-Info records come from and
// return to. Call it before the first Feed.
func (p *Parser) SetInfoPool(infos api.ObjectPool[*api.TxInfo]) {
	if infos != nil {
		p.infos = infos
	}
}

// AtBoundary reports whether no record header or payload is half read.
func (p *Parser) AtBoundary() bool { return !p.inRecord && p.hdrN == 0 }

// Stats returns a copy of the counters.
func (p *Parser) Stats() Stats { return p.stats }

// InProgress returns the id being accumulated, if any.
func (p *Parser) InProgress() (api.PPDUID, bool) {
	if !p.active {
		return 0, false
	}
	return p.info.PPDUID, true
}

// Feed parses the stream bytes of one physical status buffer, as returned by
// Payload. It returns at the first ResultDone with the bytes consumed so
// far; the caller resumes with the remainder after Take. Otherwise it
// consumes the whole buffer and reports the last record's result. A zero-length empty record truncates the PPDU in progress and
// returns ErrStreamTruncated.
func (p *Parser) Feed(buf []byte) (Result, int, error) {
	res := ResultMore
	off := 0
	for off < len(buf) {
		if !p.inRecord {
			n := copy(p.hdr[p.hdrN:], buf[off:])
			p.hdrN += n
			off += n
			if p.hdrN < HeaderLen {
				break
			}
			p.hdrN = 0
			tag := Tag(binary.LittleEndian.Uint16(p.hdr[0:2]))
			length := int(binary.LittleEndian.Uint16(p.hdr[2:4]))

			if tag == TagEmpty && length == 0 {
				p.Truncate()
				return ResultMore, off, api.Wrap(api.ErrCodeProtocol, api.ErrStreamTruncated).
					WithContext("offset", off)
			}
			if tag == TagBufferEnd {
				return res, len(buf), nil
			}
			p.tag, p.need, p.inRecord = tag, length, true
			p.scratch = p.scratch[:0]
		}

		var val []byte
		if p.need > 0 {
			avail := len(buf) - off
			if len(p.scratch) == 0 && avail >= p.need {
				val = buf[off : off+p.need]
				off += p.need
			} else {
				take := p.need - len(p.scratch)
				if take > avail {
					take = avail
				}
				p.scratch = append(p.scratch, buf[off:off+take]...)
				off += take
				if len(p.scratch) < p.need {
					break
				}
				val = p.scratch
			}
		}
		p.inRecord = false

		res = p.Parse(p.tag, val)
		if res == ResultDone {
			return res, off, nil
		}
	}
	return res, off, nil
}

// Parse applies one complete record to the PPDU in progress.
func (p *Parser) Parse(tag Tag, val []byte) Result {
	p.stats.Records++
	spec, ok := p.table[tag]
	if !ok {
		// Forward compatible: newer hardware may emit tags we do not know.
		p.stats.Unknown++
		return ResultMore
	}
	if tag == TagStatusBufferDone {
		return ResultMore
	}
	if tag == TagPPDUStart {
		if len(val) < 2 {
			p.log.WithField("len", len(val)).Warn("short ppdu start record")
			return ResultMore
		}
		p.start(api.PPDUID(binary.LittleEndian.Uint16(val[0:2])))
	} else if !p.active {
		p.stats.Orphans++
		return ResultMore
	}

	if spec.SetPreamble {
		p.info.Preamble = spec.Preamble
	}
	for _, f := range spec.Fields {
		f.apply(p.info, val)
	}
	res := spec.Result
	if spec.Handler != nil {
		res = spec.Handler(p, val)
	}
	if res == ResultDone {
		p.info.Complete = true
		p.done = true
		p.stats.Completed++
		p.metrics.Inc(control.EventPPDUParsed)
	}
	return res
}

func (p *Parser) start(id api.PPDUID) {
	switch {
	case !p.active:
		p.info = p.infos.Get()
	case p.info.PPDUID == id:
		p.stats.Duplicates++
		p.metrics.Inc(control.EventDuplicatePPDU)
		p.log.WithError(api.ErrDuplicatePPDU).WithField("ppdu", id).
			Warn("ppdu started twice without completion, restarting accumulation")
	default:
		p.stats.Superseded++
		p.metrics.Inc(control.EventPPDUSuperseded)
		p.log.WithFields(logrus.Fields{"ppdu": p.info.PPDUID, "next": id}).
			Debug("incomplete ppdu superseded")
	}
	p.info.Reset(id)
	p.active = true
	p.done = false
}

// Truncate abandons the PPDU in progress and all partial record state.
func (p *Parser) Truncate() {
	p.hdrN = 0
	p.inRecord = false
	p.need = 0
	p.scratch = p.scratch[:0]
	if p.active {
		p.info.Truncated = true
		p.stats.Truncated++
		p.metrics.Inc(control.EventPPDUTruncated)
		p.log.WithField("ppdu", p.info.PPDUID).Warn("status stream truncated")
		p.infos.Put(p.info)
	}
	p.info = nil
	p.active = false
	p.done = false
}

// Take hands over the completed PPDU; it returns nil unless the last Feed or
// Parse reported ResultDone.
func (p *Parser) Take() *api.TxInfo {
	if !p.active || !p.done {
		return nil
	}
	info := p.info
	p.info = nil
	p.active = false
	p.done = false
	return info
}

// Recycle returns a record obtained from Take once nothing references it.
func (p *Parser) Recycle(info *api.TxInfo) {
	if info != nil {
		p.infos.Put(info)
	}
}

func (p *Parser) handleUserStart(val []byte) Result {
	if len(val) < 4 {
		return ResultMore
	}
	if u := p.info.User(val[0]); u != nil {
		u.TID = val[1]
		u.PeerID = binary.LittleEndian.Uint16(val[2:4])
	}
	return ResultMore
}

func (p *Parser) handleChainRSSI(val []byte) Result {
	if len(val) < 2 {
		return ResultMore
	}
	n := int(val[1])
	if n > api.MaxChains {
		n = api.MaxChains
	}
	if n > len(val)-2 {
		n = len(val) - 2
	}
	for i := 0; i < n; i++ {
		p.info.ChainRSSI[i] = int8(val[2+i])
	}
	p.info.NumChains = n
	return ResultMore
}

func (p *Parser) handleHeader(val []byte) Result {
	// Only the first MPDU header of a PPDU is kept.
	if len(p.info.Header) == 0 {
		n := len(val)
		if n > api.MaxHeaderSnapshot {
			n = api.MaxHeaderSnapshot
		}
		p.info.Header = append(p.info.Header[:0], val[:n]...)
	}
	return ResultHeader
}

func (p *Parser) handleMPDUEnd(val []byte) Result {
	p.info.MPDUs++
	if len(val) >= 2 && val[1]&0x1 != 0 {
		p.info.FCSErrors++
	}
	return ResultFrameEnd
}

func (p *Parser) handleMSDUEnd([]byte) Result {
	p.info.MSDUs++
	return ResultPayloadEnd
}

func (p *Parser) handleUserStats(val []byte) Result {
	if len(val) < 12 {
		return ResultMore
	}
	u := p.info.User(val[0])
	if u == nil {
		return ResultMore
	}
	u.TID = val[1]
	u.MPDUOK += uint32(binary.LittleEndian.Uint16(val[2:4]))
	u.MPDUErr += uint32(binary.LittleEndian.Uint16(val[4:6]))
	u.Bytes += uint64(binary.LittleEndian.Uint32(val[8:12]))
	return ResultMore
}
