// File: tlv/table.go
// License: Apache-2.0
//
// Tag dictionary: where each fixed-layout field lives inside a record and
// which handler, if any, consumes the variable parts.

package tlv

import (
	"encoding/binary"

	"github.com/momentics/hioload-monrx/api"
)

// Field names a Transmission-Info attribute fed from the table.
type Field uint8

const (
	FieldFreq Field = iota + 1
	FieldTSF
	FieldLegacyRate
	FieldMCS
	// FieldHTMCS is the combined HT MCS index (0..31): it yields MCS and NSS.
	FieldHTMCS
	FieldNSS
	FieldBWCode
	FieldGICode
	// FieldHTShortGI is the single HT short guard interval bit.
	FieldHTShortGI
	FieldSTBC
	FieldLDPC
	FieldRSSIComb
)

// FieldSpec locates one field: Width little-endian bytes at Offset, then
// shifted right and masked. Signed fields are sign-extended from Width bytes.
type FieldSpec struct {
	Field  Field
	Offset int
	Width  int
	Shift  uint8
	Mask   uint64
	Signed bool
}

// Handler consumes the parts of a record the field list cannot express.
type Handler func(p *Parser, val []byte) Result

// TagSpec describes one tag.
type TagSpec struct {
	// Preamble is stamped on the PPDU when SetPreamble is true.
	Preamble    api.Preamble
	SetPreamble bool
	Fields      []FieldSpec
	Handler     Handler
	Result      Result
}

// Table is the tag dictionary. Tags absent from it are skipped.
type Table map[Tag]TagSpec

// DefaultTable returns the dictionary for the status stream layout.
func DefaultTable() Table {
	return Table{
		TagStatusBufferDone: {},
		TagPPDUStart: {
			Fields: []FieldSpec{
				{Field: FieldFreq, Offset: 2, Width: 2},
				{Field: FieldTSF, Offset: 4, Width: 8},
			},
		},
		TagPPDUStartUser: {Handler: (*Parser).handleUserStart},
		TagPHYLSIG: {
			Preamble: api.PreambleLegacy, SetPreamble: true,
			Fields: []FieldSpec{
				{Field: FieldLegacyRate, Offset: 0, Width: 2},
			},
		},
		TagPHYHTSIG: {
			Preamble: api.PreambleHT, SetPreamble: true,
			Fields: []FieldSpec{
				{Field: FieldHTMCS, Offset: 0, Width: 1, Mask: 0x1f},
				{Field: FieldBWCode, Offset: 1, Width: 1, Mask: 0x1},
				{Field: FieldHTShortGI, Offset: 1, Width: 1, Shift: 2, Mask: 0x1},
				{Field: FieldSTBC, Offset: 1, Width: 1, Shift: 3, Mask: 0x1},
				{Field: FieldLDPC, Offset: 1, Width: 1, Shift: 4, Mask: 0x1},
			},
		},
		TagPHYVHTSIGA: {
			Preamble: api.PreambleVHT, SetPreamble: true,
			Fields: sigAFields,
		},
		TagPHYHESIGA: {
			Preamble: api.PreambleHE, SetPreamble: true,
			Fields: sigAFields,
		},
		TagPHYRSSI: {
			Fields: []FieldSpec{
				{Field: FieldRSSIComb, Offset: 0, Width: 1, Signed: true},
			},
			Handler: (*Parser).handleChainRSSI,
		},
		TagMPDUStart:         {},
		TagMPDUHeader:        {Handler: (*Parser).handleHeader, Result: ResultHeader},
		TagMPDUEnd:           {Handler: (*Parser).handleMPDUEnd, Result: ResultFrameEnd},
		TagMSDUEnd:           {Handler: (*Parser).handleMSDUEnd, Result: ResultPayloadEnd},
		TagPPDUEndUserStats:  {Handler: (*Parser).handleUserStats},
		TagPPDUEnd:           {},
		TagPPDUEndStatusDone: {Result: ResultDone},
	}
}

// VHT and HE SIG-A share one layout.
var sigAFields = []FieldSpec{
	{Field: FieldBWCode, Offset: 0, Width: 1, Mask: 0x3},
	{Field: FieldGICode, Offset: 0, Width: 1, Shift: 2, Mask: 0x3},
	{Field: FieldSTBC, Offset: 0, Width: 1, Shift: 4, Mask: 0x1},
	{Field: FieldLDPC, Offset: 0, Width: 1, Shift: 5, Mask: 0x1},
	{Field: FieldMCS, Offset: 1, Width: 1, Mask: 0xf},
	{Field: FieldNSS, Offset: 2, Width: 1, Mask: 0x7},
}

// extract reads a field; ok is false when the record is too short.
func (f FieldSpec) extract(val []byte) (u uint64, s int64, ok bool) {
	if f.Width <= 0 || f.Width > 8 || f.Offset < 0 || f.Offset+f.Width > len(val) {
		return 0, 0, false
	}
	var raw [8]byte
	copy(raw[:], val[f.Offset:f.Offset+f.Width])
	u = binary.LittleEndian.Uint64(raw[:]) >> f.Shift
	if f.Mask != 0 {
		u &= f.Mask
	}
	s = int64(u)
	if f.Signed && f.Mask == 0 {
		bits := uint(f.Width * 8)
		s = int64(u<<(64-bits)) >> (64 - bits)
	}
	return u, s, true
}

func (f FieldSpec) apply(info *api.TxInfo, val []byte) {
	u, s, ok := f.extract(val)
	if !ok {
		return
	}
	switch f.Field {
	case FieldFreq:
		info.Freq = uint16(u)
	case FieldTSF:
		info.TSF = u
	case FieldLegacyRate:
		info.LegacyRate = uint16(u)
	case FieldMCS:
		info.MCS = uint8(u)
	case FieldHTMCS:
		info.MCS = uint8(u % 8)
		info.NSS = uint8(u/8) + 1
	case FieldNSS:
		if u == 0 {
			u = 1
		}
		info.NSS = uint8(u)
	case FieldBWCode:
		info.Bandwidth = api.BandwidthFromCode(uint8(u))
	case FieldGICode:
		info.GI = api.GuardIntervalFromCode(uint8(u))
	case FieldHTShortGI:
		if u != 0 {
			info.GI = api.GI400
		} else {
			info.GI = api.GI800
		}
	case FieldSTBC:
		info.STBC = u != 0
	case FieldLDPC:
		info.LDPC = u != 0
	case FieldRSSIComb:
		info.RSSIComb = int8(s)
	}
}
