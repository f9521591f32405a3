// File: sim/generator.go
// License: Apache-2.0
//
// Synthetic PPDU traffic with optional fault injection.

package sim

import (
	"hash/crc32"
	"math/rand"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/tlv"
	"github.com/pkg/errors"
)

// FCSLen is the 802.11 frame check sequence appended to generated MPDUs.
const FCSLen = 4

// PHY describes how a PPDU was sent.
type PHY struct {
	Preamble   api.Preamble
	Bandwidth  api.Bandwidth
	GI         api.GuardInterval
	MCS        uint8
	NSS        uint8
	LegacyRate uint16
	RSSI       int8
	Chains     []int8
	Freq       uint16
}

// PPDU is one transmission as seen on the air.
type PPDU struct {
	ID    api.PPDUID
	TSF   uint64
	PHY   PHY
	TID   uint8
	Peer  uint16
	MPDUs []MPDU
}

// StatusStream encodes the status records hardware emits for p.
func StatusStream(p PPDU) []byte {
	e := tlv.NewEncoder().PPDUStart(p.ID, p.PHY.Freq, p.TSF).User(0, p.TID, p.Peer)
	switch p.PHY.Preamble {
	case api.PreambleHT:
		e.HTSIG((p.PHY.NSS-1)*8+p.PHY.MCS, p.PHY.Bandwidth, p.PHY.GI == api.GI400, false, false)
	case api.PreambleVHT:
		e.VHTSIGA(p.PHY.Bandwidth, p.PHY.GI, p.PHY.MCS, p.PHY.NSS)
	case api.PreambleHE:
		e.HESIGA(p.PHY.Bandwidth, p.PHY.GI, p.PHY.MCS, p.PHY.NSS)
	default:
		e.LSIG(p.PHY.LegacyRate)
	}
	e.RSSI(p.PHY.RSSI, p.PHY.Chains...)

	var bytes uint64
	for _, m := range p.MPDUs {
		e.MPDUStart(0)
		if len(m.MSDUs) > 0 {
			first := m.MSDUs[0]
			e.MPDUHeader(first[:min(len(first), dot11HeaderLen)])
		}
		for _, msdu := range m.MSDUs {
			e.MSDUEnd()
			bytes += uint64(len(msdu))
		}
		e.MPDUEnd(0, m.DMAError)
	}
	ok := uint32(0)
	for _, m := range p.MPDUs {
		if !m.DMAError {
			ok++
		}
	}
	e.UserStats(api.UserStats{
		Index:   0,
		TID:     p.TID,
		MPDUOK:  ok,
		MPDUErr: uint32(len(p.MPDUs)) - ok,
		Bytes:   bytes,
	})
	return e.PPDUEnd().Done().Bytes()
}

// Emit writes status and data of p in the order a well-behaved device does.
func (h *Hardware) Emit(p PPDU) error {
	if _, err := h.WriteStatus(StatusStream(p), true); err != nil {
		return errors.Wrapf(err, "status of ppdu %d", p.ID)
	}
	return h.EmitData(p)
}

// EmitData writes only the destination side of p: its MPDUs and the end marker.
func (h *Hardware) EmitData(p PPDU) error {
	for i, m := range p.MPDUs {
		if err := h.WriteMPDU(p.ID, m); err != nil {
			return errors.Wrapf(err, "mpdu %d of ppdu %d", i, p.ID)
		}
	}
	return errors.Wrapf(h.WriteEnd(p.ID), "end of ppdu %d", p.ID)
}

const dot11HeaderLen = 24

var (
	bssid = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	staA  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// BuildMPDU serializes an 802.11 data frame carrying payload and appends
// its FCS.
func BuildMPDU(seq uint16, payload []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	dot11 := &layers.Dot11{
		Type:           layers.Dot11TypeData,
		Flags:          layers.Dot11FlagsFromDS,
		Address1:       staA,
		Address2:       bssid,
		Address3:       bssid,
		SequenceNumber: seq & 0xfff,
	}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, dot11, gopacket.Payload(payload)); err != nil {
		return nil, errors.Wrap(err, "serialize dot11")
	}
	frame := buf.Bytes()
	fcs := crc32.ChecksumIEEE(frame)
	return append(frame, byte(fcs), byte(fcs>>8), byte(fcs>>16), byte(fcs>>24)), nil
}

// Faults are per-PPDU probabilities in [0,1].
type Faults struct {
	// DMAError flags one MPDU of the PPDU as failed.
	DMAError float64
	// StatusLag publishes the status after the destination end marker.
	StatusLag float64
	// DestLoss drops the destination side of the PPDU entirely.
	DestLoss float64
	// NotReady leaves status buffers without their completion marker until
	// the next PPDU is emitted.
	NotReady float64
}

// GeneratorConfig shapes the synthetic traffic.
type GeneratorConfig struct {
	FirstID    api.PPDUID
	MaxMPDUs   int
	MaxMSDUs   int
	MaxPayload int
	Freq       uint16
	Faults     Faults
}

// DefaultGeneratorConfig returns clean traffic of small aggregates.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		FirstID:    1,
		MaxMPDUs:   4,
		MaxMSDUs:   2,
		MaxPayload: 1500,
		Freq:       5180,
	}
}

// Generator produces a deterministic PPDU sequence from a seed.
type Generator struct {
	cfg    GeneratorConfig
	rng    *rand.Rand
	next   api.PPDUID
	seq    uint16
	tsf    uint64
	lagged []PPDU
}

// NewGenerator seeds a generator.
func NewGenerator(seed int64, cfg GeneratorConfig) *Generator {
	if cfg.MaxMPDUs <= 0 {
		cfg.MaxMPDUs = 1
	}
	if cfg.MaxMSDUs <= 0 {
		cfg.MaxMSDUs = 1
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = 64
	}
	return &Generator{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(seed)),
		next: cfg.FirstID,
		tsf:  uint64(seed) & 0xffffffff,
	}
}

var (
	preambles = []api.Preamble{api.PreambleLegacy, api.PreambleHT, api.PreambleVHT, api.PreambleHE}
	widths    = []api.Bandwidth{api.BW20, api.BW40, api.BW80, api.BW160}
)

// Next builds the next PPDU without emitting it.
func (g *Generator) Next() (PPDU, error) {
	p := PPDU{
		ID:   g.next,
		TSF:  g.tsf,
		TID:  uint8(g.rng.Intn(8)),
		Peer: uint16(g.rng.Intn(64)),
		PHY:  g.phy(),
	}
	g.next++
	g.tsf += uint64(100 + g.rng.Intn(900))

	n := 1 + g.rng.Intn(g.cfg.MaxMPDUs)
	for i := 0; i < n; i++ {
		var m MPDU
		k := 1 + g.rng.Intn(g.cfg.MaxMSDUs)
		for j := 0; j < k; j++ {
			payload := make([]byte, 1+g.rng.Intn(g.cfg.MaxPayload))
			g.rng.Read(payload)
			if j == 0 {
				mpdu, err := BuildMPDU(g.seq, payload)
				if err != nil {
					return PPDU{}, err
				}
				g.seq++
				// The FCS is moved to the end of the last unit below.
				payload = mpdu[:len(mpdu)-FCSLen]
			}
			m.MSDUs = append(m.MSDUs, payload)
		}
		last := len(m.MSDUs) - 1
		fcs := crc32.ChecksumIEEE(concat(m.MSDUs))
		m.MSDUs[last] = append(m.MSDUs[last], byte(fcs), byte(fcs>>8), byte(fcs>>16), byte(fcs>>24))
		p.MPDUs = append(p.MPDUs, m)
	}
	if g.rng.Float64() < g.cfg.Faults.DMAError {
		p.MPDUs[g.rng.Intn(len(p.MPDUs))].DMAError = true
	}
	return p, nil
}

func concat(parts [][]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (g *Generator) phy() PHY {
	ph := PHY{
		Preamble:  preambles[g.rng.Intn(len(preambles))],
		Bandwidth: api.BW20,
		GI:        api.GI800,
		NSS:       1,
		RSSI:      int8(-30 - g.rng.Intn(60)),
		Freq:      g.cfg.Freq,
	}
	chains := 1 + g.rng.Intn(4)
	for i := 0; i < chains; i++ {
		ph.Chains = append(ph.Chains, ph.RSSI-int8(g.rng.Intn(6)))
	}
	switch ph.Preamble {
	case api.PreambleLegacy:
		ph.LegacyRate = []uint16{12, 24, 48, 108}[g.rng.Intn(4)]
	case api.PreambleHT:
		ph.Bandwidth = widths[g.rng.Intn(2)]
		ph.MCS = uint8(g.rng.Intn(8))
		ph.NSS = uint8(1 + g.rng.Intn(4))
		if g.rng.Intn(2) == 0 {
			ph.GI = api.GI400
		}
	case api.PreambleVHT:
		ph.Bandwidth = widths[g.rng.Intn(len(widths))]
		ph.MCS = uint8(g.rng.Intn(10))
		ph.NSS = uint8(1 + g.rng.Intn(4))
		ph.GI = []api.GuardInterval{api.GI800, api.GI400}[g.rng.Intn(2)]
	case api.PreambleHE:
		ph.Bandwidth = widths[g.rng.Intn(len(widths))]
		ph.MCS = uint8(g.rng.Intn(12))
		ph.NSS = uint8(1 + g.rng.Intn(4))
		ph.GI = []api.GuardInterval{api.GI800, api.GI1600, api.GI3200}[g.rng.Intn(3)]
	}
	return ph
}

// Drive emits p into h, applying the configured faults. Status held back
// by an earlier call is published first, so it trails its destination side
// by exactly one PPDU.
func (g *Generator) Drive(h *Hardware, p PPDU) error {
	f := g.cfg.Faults
	if err := g.Flush(h); err != nil {
		return err
	}
	if g.rng.Float64() < f.StatusLag {
		g.lagged = append(g.lagged, p)
	} else {
		ready := g.rng.Float64() >= f.NotReady
		if _, err := h.WriteStatus(StatusStream(p), ready); err != nil {
			return errors.Wrapf(err, "status of ppdu %d", p.ID)
		}
	}
	if g.rng.Float64() < f.DestLoss {
		return nil
	}
	return h.EmitData(p)
}

// Flush publishes any lagged status and completes unfinished buffers.
func (g *Generator) Flush(h *Hardware) error {
	h.FinishStatus()
	for _, old := range g.lagged {
		if _, err := h.WriteStatus(StatusStream(old), true); err != nil {
			return errors.Wrapf(err, "lagged status of ppdu %d", old.ID)
		}
	}
	g.lagged = g.lagged[:0]
	return nil
}
