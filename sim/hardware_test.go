package sim

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/momentics/hioload-monrx/tlv"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testHW struct {
	*Hardware
	data   *pool.Pool
	status *pool.Pool
}

func newTestHW(t *testing.T) *testHW {
	t.Helper()
	log, _ := test.NewNullLogger()
	data, err := pool.New(pool.Config{ID: 1, Name: "data", Capacity: 32, BufSize: 64}, nil, log, nil)
	require.NoError(t, err)
	status, err := pool.New(pool.Config{ID: 2, Name: "status", Capacity: 8, BufSize: 64}, nil, log, nil)
	require.NoError(t, err)
	cfg := Config{DestRing: 8, StatusRing: 8, DataRefill: 16, StatusRefill: 4, LinkNodes: 4, RxHeaderLen: 16}
	h := NewHardware(cfg, data, status)

	data.AddOutstanding(cfg.DataRefill)
	_, err = data.Refill(h.DataRefill)
	require.NoError(t, err)
	status.AddOutstanding(cfg.StatusRefill)
	_, err = status.Refill(h.StatusRefill)
	require.NoError(t, err)
	return &testHW{Hardware: h, data: data, status: status}
}

func TestWriteMPDUSpansBuffers(t *testing.T) {
	h := newTestHW(t)
	msdu := bytes.Repeat([]byte{0x5a}, 100)
	m := MPDU{MSDUs: [][]byte{msdu, {1, 2, 3}}}
	assert.Equal(t, 4, h.Buffers(m))

	require.NoError(t, h.WriteMPDU(300, m))
	require.NoError(t, h.WriteEnd(300))
	assert.Equal(t, 12, h.DataRefill.Visible())

	require.NoError(t, h.Dest.AccessStart())
	d, ok := h.Dest.PeekNext()
	require.True(t, ok)
	h.Dest.Advance()
	end, ok := h.Dest.PeekNext()
	require.True(t, ok)
	h.Dest.AccessEnd()

	assert.EqualValues(t, 300, d.PPDUID)
	assert.Equal(t, 4, d.FragCount)
	assert.False(t, d.EndOfPPDU)
	assert.True(t, end.EndOfPPDU)

	node, err := h.Links.Resolve(d.LinkRef)
	require.NoError(t, err)
	require.Len(t, node.Entries, 4)
	assert.Equal(t, api.NoLink, node.Next)

	flags := [][3]bool{{true, false, true}, {false, false, true}, {false, false, false}, {false, true, false}}
	var joined []byte
	for i, e := range node.Entries {
		assert.Equal(t, flags[i], [3]bool{e.First, e.Last, e.Continuation}, "entry %d", i)
		b, err := h.data.Lookup(e.Cookie)
		require.NoError(t, err)
		assert.EqualValues(t, 300, binary.LittleEndian.Uint16(b.Data[0:2]))
		assert.EqualValues(t, e.MSDULen, binary.LittleEndian.Uint16(b.Data[2:4]))
		if i < 3 {
			joined = append(joined, b.Data[16:]...)
		}
	}
	assert.Equal(t, msdu, joined[:100])
}

func TestWriteMPDUChainsLinkNodes(t *testing.T) {
	h := newTestHW(t)
	var m MPDU
	for i := 0; i < api.MaxLinkEntries+2; i++ {
		m.MSDUs = append(m.MSDUs, []byte{byte(i)})
	}
	m.FragSkew = -1
	m.DMAError = true
	require.NoError(t, h.WriteMPDU(1, m))

	require.NoError(t, h.Dest.AccessStart())
	d, _ := h.Dest.PeekNext()
	h.Dest.AccessEnd()
	assert.Equal(t, api.MaxLinkEntries+1, d.FragCount)
	assert.True(t, d.DMAError)

	first, err := h.Links.Resolve(d.LinkRef)
	require.NoError(t, err)
	assert.Len(t, first.Entries, api.MaxLinkEntries)
	second, err := h.Links.Resolve(first.Next)
	require.NoError(t, err)
	assert.Len(t, second.Entries, 2)
	assert.True(t, second.Entries[1].Last)
	assert.Equal(t, 2, h.Links.Idle())
}

func TestWriteMPDUShortResources(t *testing.T) {
	h := newTestHW(t)
	big := MPDU{MSDUs: [][]byte{make([]byte, 48*17)}}
	assert.ErrorIs(t, h.WriteMPDU(1, big), ErrNoBuffers)
	assert.Equal(t, 16, h.DataRefill.Visible(), "nothing consumed on failure")
	assert.ErrorIs(t, h.WriteMPDU(1, MPDU{}), api.ErrInvalidArgument)
}

func TestWriteStatusMarkers(t *testing.T) {
	h := newTestHW(t)
	stream := tlv.NewEncoder().PPDUStart(9, 2412, 0).LSIG(12).MPDUHeader(make([]byte, 40)).Done().Bytes()

	n, err := h.WriteStatus(stream, false)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, 2, h.Status.Pending())

	require.NoError(t, h.Status.AccessStart())
	desc, _ := h.Status.PeekNext()
	h.Status.AccessEnd()
	b, err := h.status.Lookup(desc.Cookie)
	require.NoError(t, err)
	assert.False(t, tlv.HasCompletionMarker(b.Data))

	assert.Equal(t, 2, h.FinishStatus())
	assert.True(t, tlv.HasCompletionMarker(b.Data))
	assert.Zero(t, h.FinishStatus())

	_, err = h.WriteStatus(bytes.Repeat(stream, 6), true)
	assert.ErrorIs(t, err, ErrNoBuffers)
}

func TestBuildMPDU(t *testing.T) {
	frame, err := BuildMPDU(0x1234, []byte("payload"))
	require.NoError(t, err)
	body := frame[:len(frame)-FCSLen]
	assert.Equal(t, crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(frame[len(body):]))

	pkt := gopacket.NewPacket(frame, layers.LayerTypeDot11, gopacket.Default)
	l := pkt.Layer(layers.LayerTypeDot11)
	require.NotNil(t, l)
	dot11 := l.(*layers.Dot11)
	assert.Equal(t, layers.Dot11TypeData, dot11.Type)
	assert.Equal(t, staA, dot11.Address1)
	assert.Equal(t, bssid, dot11.Address2)
	assert.EqualValues(t, 0x234, dot11.SequenceNumber)
	assert.True(t, dot11.Flags.FromDS())
}

func TestGeneratorIsDeterministic(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.MaxPayload = 200
	a, b := NewGenerator(7, cfg), NewGenerator(7, cfg)
	for i := 0; i < 20; i++ {
		pa, err := a.Next()
		require.NoError(t, err)
		pb, err := b.Next()
		require.NoError(t, err)
		require.Equal(t, pa, pb)
		assert.EqualValues(t, i+1, pa.ID)
		for _, m := range pa.MPDUs {
			all := concat(m.MSDUs)
			body := all[:len(all)-FCSLen]
			assert.Equal(t, crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(all[len(body):]))
		}
	}
}

func TestGeneratorIDsWrap(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.FirstID = 65535
	g := NewGenerator(1, cfg)
	p, err := g.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 65535, p.ID)
	p, err = g.Next()
	require.NoError(t, err)
	assert.EqualValues(t, 0, p.ID)
}

func TestStatusStreamParses(t *testing.T) {
	p := PPDU{
		ID:  42,
		TSF: 99,
		TID: 3,
		PHY: PHY{Preamble: api.PreambleHT, Bandwidth: api.BW40, GI: api.GI400, MCS: 5, NSS: 2, RSSI: -50, Freq: 2437},
		MPDUs: []MPDU{
			{MSDUs: [][]byte{make([]byte, 30)}},
			{MSDUs: [][]byte{make([]byte, 10), make([]byte, 10)}, DMAError: true},
		},
	}
	parser := tlv.NewParser(nil, nil, nil)
	var info *api.TxInfo
	for _, img := range tlv.Split(StatusStream(p), 64) {
		rest := tlv.Payload(img)
		for len(rest) > 0 {
			res, n, err := parser.Feed(rest)
			require.NoError(t, err)
			rest = rest[n:]
			if res == tlv.ResultDone {
				info = parser.Take()
			}
		}
	}
	require.NotNil(t, info)
	assert.EqualValues(t, 42, info.PPDUID)
	assert.Equal(t, api.PreambleHT, info.Preamble)
	assert.EqualValues(t, 5, info.MCS)
	assert.EqualValues(t, 2, info.NSS)
	assert.Equal(t, 2, info.MPDUs)
	assert.Equal(t, 3, info.MSDUs)
	assert.Equal(t, 1, info.FCSErrors)
	require.Len(t, info.Users, 1)
	assert.EqualValues(t, 1, info.Users[0].MPDUOK)
	assert.EqualValues(t, 50, info.Users[0].Bytes)
}
