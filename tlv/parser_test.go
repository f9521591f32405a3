package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/momentics/hioload-monrx/api"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser() (*Parser, *test.Hook) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return NewParser(nil, l, nil), hook
}

// feedImages runs every status buffer image through p and collects the
// completed records.
func feedImages(t *testing.T, p *Parser, images [][]byte) []*api.TxInfo {
	t.Helper()
	var out []*api.TxInfo
	for _, img := range images {
		require.True(t, HasCompletionMarker(img))
		rest := Payload(img)
		for len(rest) > 0 {
			res, n, err := p.Feed(rest)
			require.NoError(t, err)
			require.Positive(t, n)
			rest = rest[n:]
			if res == ResultDone {
				info := p.Take()
				require.NotNil(t, info)
				out = append(out, info)
			}
		}
	}
	return out
}

func TestParserRoundTripVHT(t *testing.T) {
	p, _ := newTestParser()
	stream := NewEncoder().
		PPDUStart(10, 5180, 123456789).
		VHTSIGA(api.BW80, api.GI400, 7, 2).
		RSSI(-40, -42, -44).
		PPDUEnd().
		Done().
		Bytes()

	infos := feedImages(t, p, Split(stream, 256))
	require.Len(t, infos, 1)
	info := infos[0]
	assert.EqualValues(t, 10, info.PPDUID)
	assert.True(t, info.Complete)
	assert.Equal(t, api.PreambleVHT, info.Preamble)
	assert.Equal(t, api.BW80, info.Bandwidth)
	assert.EqualValues(t, 7, info.MCS)
	assert.EqualValues(t, 2, info.NSS)
	assert.EqualValues(t, -40, info.RSSIComb)
	assert.Equal(t, api.GI400, info.GI)
	assert.EqualValues(t, 5180, info.Freq)
	assert.EqualValues(t, 123456789, info.TSF)
	assert.Equal(t, 2, info.NumChains)
	assert.EqualValues(t, -42, info.ChainRSSI[0])
	assert.EqualValues(t, -44, info.ChainRSSI[1])
}

func TestParserHTMCSImpliesStreams(t *testing.T) {
	p, _ := newTestParser()
	stream := NewEncoder().
		PPDUStart(3, 2412, 0).
		HTSIG(15, api.BW40, true, false, false).
		Done().
		Bytes()

	infos := feedImages(t, p, Split(stream, 128))
	require.Len(t, infos, 1)
	assert.Equal(t, api.PreambleHT, infos[0].Preamble)
	assert.EqualValues(t, 7, infos[0].MCS)
	assert.EqualValues(t, 2, infos[0].NSS)
	assert.Equal(t, api.BW40, infos[0].Bandwidth)
	assert.Equal(t, api.GI400, infos[0].GI)
}

func TestParserRecordsSpanBuffers(t *testing.T) {
	p, _ := newTestParser()
	hdr := bytes.Repeat([]byte{0xab}, 60)
	stream := NewEncoder().
		PPDUStart(77, 5745, 1).
		HESIGA(api.BW160, api.GI3200, 11, 4).
		MPDUStart(0).
		MPDUHeader(hdr).
		MSDUEnd().
		MPDUEnd(0, true).
		UserStats(api.UserStats{Index: 0, TID: 6, MPDUOK: 3, MPDUErr: 1, Bytes: 4500}).
		Done().
		Bytes()

	// 20-byte images leave 12 bytes of records each, so headers and payloads
	// straddle boundaries.
	images := Split(stream, 20)
	require.Greater(t, len(images), 5)

	infos := feedImages(t, p, images)
	require.Len(t, infos, 1)
	info := infos[0]
	assert.Equal(t, hdr, info.Header)
	assert.Equal(t, api.PreambleHE, info.Preamble)
	assert.Equal(t, api.BW160, info.Bandwidth)
	assert.Equal(t, api.GI3200, info.GI)
	assert.EqualValues(t, 11, info.MCS)
	assert.EqualValues(t, 4, info.NSS)
	assert.Equal(t, 1, info.MPDUs)
	assert.Equal(t, 1, info.MSDUs)
	assert.Equal(t, 1, info.FCSErrors)
	require.Len(t, info.Users, 1)
	assert.EqualValues(t, 3, info.Users[0].MPDUOK)
	assert.EqualValues(t, 1, info.Users[0].MPDUErr)
	assert.EqualValues(t, 4500, info.Users[0].Bytes)
	assert.EqualValues(t, 6, info.Users[0].TID)
}

func TestParserDoneMidBufferResumes(t *testing.T) {
	p, _ := newTestParser()
	stream := NewEncoder().
		PPDUStart(1, 2412, 0).LSIG(12).Done().
		PPDUStart(2, 2412, 0).LSIG(108).Done().
		Bytes()

	infos := feedImages(t, p, Split(stream, 512))
	require.Len(t, infos, 2)
	assert.EqualValues(t, 1, infos[0].PPDUID)
	assert.EqualValues(t, 12, infos[0].LegacyRate)
	assert.EqualValues(t, 2, infos[1].PPDUID)
	assert.EqualValues(t, 108, infos[1].LegacyRate)
	assert.EqualValues(t, 2, p.Stats().Completed)
}

func TestParserTruncation(t *testing.T) {
	p, hook := newTestParser()
	stream := NewEncoder().
		PPDUStart(9, 2412, 0).
		MPDUHeader(bytes.Repeat([]byte{1}, 30)).
		Truncation().
		Bytes()
	images := Split(stream, 24)

	var err error
	for _, img := range images {
		rest := Payload(img)
		for len(rest) > 0 && err == nil {
			var n int
			_, n, err = p.Feed(rest)
			rest = rest[n:]
		}
		if err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrStreamTruncated))
	assert.Equal(t, api.ErrCodeProtocol, api.Classify(err))
	assert.Nil(t, p.Take())
	_, active := p.InProgress()
	assert.False(t, active)
	assert.EqualValues(t, 1, p.Stats().Truncated)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	// The parser recovers on the next PPDU.
	infos := feedImages(t, p, Split(NewEncoder().PPDUStart(10, 0, 0).Done().Bytes(), 64))
	require.Len(t, infos, 1)
	assert.EqualValues(t, 10, infos[0].PPDUID)
	assert.False(t, infos[0].Truncated)
}

func TestParserDuplicateIDIsNonFatal(t *testing.T) {
	p, hook := newTestParser()
	stream := NewEncoder().
		PPDUStart(5, 2412, 0).LSIG(2).
		PPDUStart(5, 2412, 0).LSIG(4).
		Done().
		Bytes()

	infos := feedImages(t, p, Split(stream, 256))
	require.Len(t, infos, 1)
	assert.EqualValues(t, 4, infos[0].LegacyRate)
	assert.EqualValues(t, 1, p.Stats().Duplicates)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestParserSupersededPPDU(t *testing.T) {
	p, _ := newTestParser()
	stream := NewEncoder().
		PPDUStart(5, 2412, 0).
		PPDUStart(6, 2412, 0).
		Done().
		Bytes()

	infos := feedImages(t, p, Split(stream, 256))
	require.Len(t, infos, 1)
	assert.EqualValues(t, 6, infos[0].PPDUID)
	assert.EqualValues(t, 1, p.Stats().Superseded)
}

func TestParserIgnoresUnknownAndOrphanTags(t *testing.T) {
	p, _ := newTestParser()
	stream := NewEncoder().
		Record(Tag(0x7777), []byte{1, 2, 3}).
		LSIG(22).
		PPDUStart(1, 2412, 0).
		Record(Tag(0x7fff), bytes.Repeat([]byte{9}, 40)).
		Done().
		Bytes()

	infos := feedImages(t, p, Split(stream, 64))
	require.Len(t, infos, 1)
	assert.Zero(t, infos[0].LegacyRate)
	st := p.Stats()
	assert.EqualValues(t, 2, st.Unknown)
	assert.EqualValues(t, 1, st.Orphans)
}

func TestParserRecordResults(t *testing.T) {
	p, _ := newTestParser()
	assert.Equal(t, ResultMore, p.Parse(TagPPDUStart, []byte{1, 0}))
	assert.Equal(t, ResultHeader, p.Parse(TagMPDUHeader, []byte{0x88, 0x41}))
	assert.Equal(t, ResultPayloadEnd, p.Parse(TagMSDUEnd, nil))
	assert.Equal(t, ResultFrameEnd, p.Parse(TagMPDUEnd, []byte{0, 0}))
	assert.Equal(t, ResultDone, p.Parse(TagPPDUEndStatusDone, nil))

	info := p.Take()
	require.NotNil(t, info)
	assert.Equal(t, []byte{0x88, 0x41}, info.Header)
	assert.Nil(t, p.Take())
	p.Recycle(info)
}

func TestParserMultiUserStats(t *testing.T) {
	p, _ := newTestParser()
	e := NewEncoder().PPDUStart(40, 5500, 0)
	for i := uint8(0); i < 3; i++ {
		e.User(i, i, uint16(100+i))
	}
	for i := uint8(0); i < 3; i++ {
		e.UserStats(api.UserStats{Index: i, TID: i, MPDUOK: uint32(i) + 1, Bytes: 1000})
	}
	infos := feedImages(t, p, Split(e.Done().Bytes(), 48))
	require.Len(t, infos, 1)
	require.Len(t, infos[0].Users, 3)
	for i, u := range infos[0].Users {
		assert.EqualValues(t, i, u.Index)
		assert.EqualValues(t, 100+i, u.PeerID)
		assert.EqualValues(t, i+1, u.MPDUOK)
		assert.EqualValues(t, 1000, u.Bytes)
	}
}

func TestSplitMarkerCarriesLength(t *testing.T) {
	stream := NewEncoder().PPDUStart(77, 5745, 1).VHTSIGA(api.BW80, api.GI800, 7, 2).Done().Bytes()
	images := Split(stream, 20)
	var joined []byte
	for _, img := range images {
		require.LessOrEqual(t, len(img), 20)
		require.True(t, HasCompletionMarker(img))
		joined = append(joined, Payload(img)...)
	}
	assert.Equal(t, stream, joined)
	assert.Nil(t, Split(stream, MarkerLen))
	assert.Nil(t, Payload([]byte{1, 0}))
}

// Status buffers are larger than what hardware wrote into them; whatever
// follows the valid extent is stale memory and must not reach the parser.
func TestParserIgnoresStaleBytesPastValidLength(t *testing.T) {
	for _, size := range []int{20, 24, 48, 64, 1024} {
		p, _ := newTestParser()
		stream := NewEncoder().
			PPDUStart(77, 5745, 1).
			VHTSIGA(api.BW80, api.GI400, 7, 2).
			RSSI(-40, -41, -43).
			Done().
			Bytes()

		var images [][]byte
		for _, img := range Split(stream, size) {
			buf := bytes.Repeat([]byte{0xee}, size)
			copy(buf, img)
			images = append(images, buf)
		}
		infos := feedImages(t, p, images)
		require.Len(t, infos, 1, "buffer size %d", size)
		info := infos[0]
		assert.EqualValues(t, 77, info.PPDUID)
		assert.EqualValues(t, 5745, info.Freq)
		assert.EqualValues(t, 1, info.TSF)
		assert.Equal(t, api.BW80, info.Bandwidth)
		assert.EqualValues(t, 7, info.MCS)
		assert.EqualValues(t, 2, info.NSS)
		assert.EqualValues(t, -40, info.RSSIComb)
		assert.Zero(t, p.Stats().Truncated)
		assert.True(t, p.AtBoundary())
	}
}

func TestParserBufferEndSkipsRest(t *testing.T) {
	p, _ := newTestParser()
	stream := NewEncoder().PPDUStart(3, 2412, 0).Record(TagBufferEnd, nil).Bytes()
	stream = append(stream, 0xde, 0xad, 0xbe, 0xef)
	res, n, err := p.Feed(stream)
	require.NoError(t, err)
	assert.Equal(t, ResultMore, res)
	assert.Equal(t, len(stream), n)
	assert.True(t, IsBufferEnd(NewEncoder().Record(TagBufferEnd, nil).Bytes()))
	assert.False(t, IsBufferEnd([]byte{2}))
}

type countingPool struct {
	gets, puts int
}

func (c *countingPool) Get() *api.TxInfo {
	c.gets++
	return &api.TxInfo{}
}

func (c *countingPool) Put(*api.TxInfo) { c.puts++ }

func TestParserRecordsReturnToPool(t *testing.T) {
	p, _ := newTestParser()
	infos := &countingPool{}
	p.SetInfoPool(infos)

	p.Parse(TagPPDUStart, []byte{1, 0})
	p.Truncate()
	assert.Equal(t, 1, infos.gets)
	assert.Equal(t, 1, infos.puts)

	p.Parse(TagPPDUStart, []byte{2, 0})
	require.Equal(t, ResultDone, p.Parse(TagPPDUEndStatusDone, nil))
	info := p.Take()
	require.NotNil(t, info)
	p.Recycle(info)
	assert.Equal(t, 2, infos.gets)
	assert.Equal(t, 2, infos.puts)
}
