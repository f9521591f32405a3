// Package tlv decodes the hardware status stream of the monitor path.
//
// The stream is a strictly ordered sequence of records
//
//	tag:16 | length:16 | payload[length]
//
// little endian, without padding. Records may straddle physical status
// buffers. Every status buffer starts with a TagStatusBufferDone marker once
// hardware has finished writing it; the marker also carries the number of
// stream bytes that follow and where the first record of the buffer begins
// (see MarkerLen). A TagBufferEnd record at a record boundary
// ends the buffer early.
package tlv

import "fmt"

// Tag identifies a status record.
type Tag uint16

const (
	// TagEmpty with zero length ends the stream early.
	TagEmpty            Tag = 0x0000
	TagStatusBufferDone Tag = 0x0001
	// TagBufferEnd marks the rest of a status buffer as unused. Hardware
	// places it only between records.
	TagBufferEnd Tag = 0x0002

	TagPPDUStart     Tag = 0x0010
	TagPPDUStartUser Tag = 0x0011

	TagPHYLSIG    Tag = 0x0020
	TagPHYHTSIG   Tag = 0x0021
	TagPHYVHTSIGA Tag = 0x0022
	TagPHYHESIGA  Tag = 0x0023
	TagPHYRSSI    Tag = 0x0024

	TagMPDUStart  Tag = 0x0030
	TagMPDUHeader Tag = 0x0031
	TagMPDUEnd    Tag = 0x0032
	TagMSDUEnd    Tag = 0x0033

	TagPPDUEndUserStats  Tag = 0x0040
	TagPPDUEnd           Tag = 0x0041
	TagPPDUEndStatusDone Tag = 0x0042
)

// HeaderLen is the size of a record header.
const HeaderLen = 4

var tagNames = map[Tag]string{
	TagEmpty:             "empty",
	TagStatusBufferDone:  "status-buffer-done",
	TagBufferEnd:         "buffer-end",
	TagPPDUStart:         "ppdu-start",
	TagPPDUStartUser:     "ppdu-start-user",
	TagPHYLSIG:           "phy-lsig",
	TagPHYHTSIG:          "phy-ht-sig",
	TagPHYVHTSIGA:        "phy-vht-sig-a",
	TagPHYHESIGA:         "phy-he-sig-a",
	TagPHYRSSI:           "phy-rssi",
	TagMPDUStart:         "mpdu-start",
	TagMPDUHeader:        "mpdu-header",
	TagMPDUEnd:           "mpdu-end",
	TagMSDUEnd:           "msdu-end",
	TagPPDUEndUserStats:  "ppdu-end-user-stats",
	TagPPDUEnd:           "ppdu-end",
	TagPPDUEndStatusDone: "ppdu-end-status-done",
}

func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tag(%#04x)", uint16(t))
}

// Result is the parser verdict after one record.
type Result uint8

const (
	ResultMore Result = iota
	ResultHeader
	ResultFrameEnd
	ResultPayloadEnd
	// ResultDone is the only terminal result: the PPDU is ready for correlation.
	ResultDone
)

func (r Result) String() string {
	switch r {
	case ResultHeader:
		return "header"
	case ResultFrameEnd:
		return "frame-end"
	case ResultPayloadEnd:
		return "payload-end"
	case ResultDone:
		return "done"
	default:
		return "more"
	}
}
