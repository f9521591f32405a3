// File: sink/pcap.go
// License: Apache-2.0
//
// Radiotap pcap writer.

package sink

import (
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/momentics/hioload-monrx/api"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultSnapLen is large enough for any A-MSDU.
const DefaultSnapLen = 65535

// PcapOptions tune a PcapSink.
type PcapOptions struct {
	SnapLen uint32
	// Epoch is the capture time of TSF zero; zero means the sink creation time.
	Epoch time.Time
	Log   logrus.FieldLogger
}

// PcapSink writes every delivered MPDU with a radiotap header built from its
// Transmission-Info. It is safe for concurrent use by several radios.
type PcapSink struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	snapLen uint32
	epoch   time.Time
	log     logrus.FieldLogger
	buf     gopacket.SerializeBuffer

	written uint64
	failed  uint64
}

// NewPcapSink writes the file header to w.
func NewPcapSink(w io.Writer, opts PcapOptions) (*PcapSink, error) {
	if opts.SnapLen == 0 {
		opts.SnapLen = DefaultSnapLen
	}
	if opts.Epoch.IsZero() {
		opts.Epoch = time.Now()
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(opts.SnapLen, layers.LinkTypeIEEE80211Radio); err != nil {
		return nil, errors.Wrap(err, "write pcap header")
	}
	return &PcapSink{
		w:       pw,
		snapLen: opts.SnapLen,
		epoch:   opts.Epoch,
		log:     opts.Log.WithField("sink", "pcap"),
		buf:     gopacket.NewSerializeBuffer(),
	}, nil
}

// Deliver implements api.Sink.
func (s *PcapSink) Deliver(frame *api.Frame, info *api.TxInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(frame, info); err != nil {
		s.failed++
		s.log.WithError(err).WithField("ppdu", frame.PPDUID).Warn("dropping frame from capture")
		return
	}
	s.written++
}

func (s *PcapSink) write(frame *api.Frame, info *api.TxInfo) error {
	if err := s.buf.Clear(); err != nil {
		return err
	}
	rt := RadioTap(info)
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(s.buf, opts, rt, gopacket.Payload(frame.MPDU())); err != nil {
		return errors.Wrap(err, "serialize radiotap")
	}
	data := s.buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     s.epoch.Add(time.Duration(info.TSF) * time.Microsecond),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if uint32(len(data)) > s.snapLen {
		ci.CaptureLength = int(s.snapLen)
		data = data[:s.snapLen]
	}
	return errors.Wrap(s.w.WritePacket(ci, data), "write packet")
}

// Counts reports written and failed frames.
func (s *PcapSink) Counts() (written, failed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written, s.failed
}

// RadioTap maps a Transmission-Info onto radiotap fields. HT rates go to the
// MCS field; VHT and HE rates share the VHT field, radiotap's HE field has
// no gopacket encoder.
func RadioTap(info *api.TxInfo) *layers.RadioTap {
	rt := &layers.RadioTap{
		Present: layers.RadioTapPresentTSFT |
			layers.RadioTapPresentFlags |
			layers.RadioTapPresentChannel |
			layers.RadioTapPresentDBMAntennaSignal,
		TSFT:             info.TSF,
		ChannelFrequency: layers.RadioTapChannelFrequency(info.Freq),
		ChannelFlags:     channelFlags(info),
		DBMAntennaSignal: info.RSSIComb,
	}
	switch info.Preamble {
	case api.PreambleLegacy:
		rt.Present |= layers.RadioTapPresentRate
		rt.Rate = layers.RadioTapRate(info.LegacyRate)
	case api.PreambleHT:
		rt.Present |= layers.RadioTapPresentMCS
		rt.MCS = htMCS(info)
		if info.GI == api.GI400 {
			rt.Flags |= layers.RadioTapFlagsShortGI
		}
	default:
		rt.Present |= layers.RadioTapPresentVHT
		rt.VHT = vht(info)
		if info.GI == api.GI400 {
			rt.Flags |= layers.RadioTapFlagsShortGI
		}
	}
	return rt
}

func channelFlags(info *api.TxInfo) layers.RadioTapChannelFlags {
	var f layers.RadioTapChannelFlags
	if info.Freq >= 5000 {
		f |= layers.RadioTapChannelFlagsGhz5
	} else {
		f |= layers.RadioTapChannelFlagsGhz2
	}
	switch {
	case info.Preamble == api.PreambleLegacy && cckRate(info.LegacyRate):
		f |= layers.RadioTapChannelFlagsCCK
	default:
		f |= layers.RadioTapChannelFlagsOFDM
	}
	return f
}

// cckRate reports the DSSS/CCK rates 1, 2, 5.5 and 11 Mbps.
func cckRate(rate uint16) bool {
	return rate == 2 || rate == 4 || rate == 11 || rate == 22
}

func htMCS(info *api.TxInfo) layers.RadioTapMCS {
	m := layers.RadioTapMCS{
		Known: layers.RadioTapMCSKnownBandwidth |
			layers.RadioTapMCSKnownMCSIndex |
			layers.RadioTapMCSKnownGuardInterval |
			layers.RadioTapMCSKnownFECType |
			layers.RadioTapMCSKnownSTBC,
		MCS: (max(info.NSS, 1)-1)*8 + info.MCS,
	}
	if info.Bandwidth == api.BW40 {
		m.Flags |= 1
	}
	if info.GI == api.GI400 {
		m.Flags |= layers.RadioTapMCSFlagsShortGI
	}
	if info.LDPC {
		m.Flags |= layers.RadioTapMCSFlagsFECLDPC
	}
	if info.STBC {
		m.Flags |= 1 << 5
	}
	return m
}

// vhtBandwidth is the radiotap VHT bandwidth index of a channel width.
var vhtBandwidth = map[api.Bandwidth]uint8{
	api.BW20:  0,
	api.BW40:  1,
	api.BW80:  4,
	api.BW160: 11,
}

func vht(info *api.TxInfo) layers.RadioTapVHT {
	v := layers.RadioTapVHT{
		Known: layers.RadioTapVHTKnownSTBC |
			layers.RadioTapVHTKnownGI |
			layers.RadioTapVHTKnownBandwidth,
		Bandwidth: vhtBandwidth[info.Bandwidth],
	}
	v.MCSNSS[0] = layers.RadioTapVHTMCSNSS(max(info.NSS, 1)&0xf | info.MCS<<4)
	if info.GI == api.GI400 {
		v.Flags |= layers.RadioTapVHTFlagsSGI
	}
	if info.STBC {
		v.Flags |= layers.RadioTapVHTFlagsSTBC
	}
	if info.LDPC {
		v.Coding = 1
	}
	return v
}
