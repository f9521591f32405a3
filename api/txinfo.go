// File: api/txinfo.go
// License: Apache-2.0
//
// Transmission-Info: per-PPDU PHY attributes and per-user counters accumulated
// from the status stream.

package api

import "fmt"

// MaxChains is the number of receive chains reported per PPDU.
const MaxChains = 8

// MaxUsers bounds the per-user stats carried by one PPDU.
const MaxUsers = 8

// MaxHeaderSnapshot bounds the captured MPDU header bytes.
const MaxHeaderSnapshot = 128

// Preamble is the PHY format of the transmission.
type Preamble uint8

const (
	PreambleLegacy Preamble = iota
	PreambleHT
	PreambleVHT
	PreambleHE
)

func (p Preamble) String() string {
	switch p {
	case PreambleHT:
		return "ht"
	case PreambleVHT:
		return "vht"
	case PreambleHE:
		return "he"
	default:
		return "legacy"
	}
}

// Bandwidth in MHz.
type Bandwidth uint16

const (
	BW20  Bandwidth = 20
	BW40  Bandwidth = 40
	BW80  Bandwidth = 80
	BW160 Bandwidth = 160
)

// BandwidthFromCode decodes the 2-bit PHY bandwidth code.
func BandwidthFromCode(code uint8) Bandwidth {
	switch code & 0x3 {
	case 1:
		return BW40
	case 2:
		return BW80
	case 3:
		return BW160
	}
	return BW20
}

// Code is the inverse of BandwidthFromCode.
func (b Bandwidth) Code() uint8 {
	switch b {
	case BW40:
		return 1
	case BW80:
		return 2
	case BW160:
		return 3
	}
	return 0
}

// GuardInterval in nanoseconds.
type GuardInterval uint16

const (
	GI800  GuardInterval = 800
	GI400  GuardInterval = 400
	GI1600 GuardInterval = 1600
	GI3200 GuardInterval = 3200
)

// GuardIntervalFromCode decodes the 2-bit PHY guard interval code.
func GuardIntervalFromCode(code uint8) GuardInterval {
	switch code & 0x3 {
	case 1:
		return GI400
	case 2:
		return GI1600
	case 3:
		return GI3200
	}
	return GI800
}

// Code is the inverse of GuardIntervalFromCode.
func (g GuardInterval) Code() uint8 {
	switch g {
	case GI400:
		return 1
	case GI1600:
		return 2
	case GI3200:
		return 3
	}
	return 0
}

// UserStats are per-user counters of a (possibly multi-user) PPDU.
type UserStats struct {
	Index   uint8
	PeerID  uint16
	TID     uint8
	MPDUOK  uint32
	MPDUErr uint32
	Bytes   uint64
}

// TxInfo accumulates everything the status path knows about one PPDU.
type TxInfo struct {
	PPDUID    PPDUID
	Complete  bool
	Truncated bool

	Preamble   Preamble
	Bandwidth  Bandwidth
	MCS        uint8
	NSS        uint8
	GI         GuardInterval
	LegacyRate uint16 // 500 kbps units
	STBC       bool
	LDPC       bool

	RSSIComb  int8
	ChainRSSI [MaxChains]int8
	NumChains int

	TSF  uint64
	Freq uint16 // MHz

	Users  []UserStats
	Header []byte

	MPDUs     int
	MSDUs     int
	FCSErrors int
}

// Reset clears the record for reuse under a new id.
func (t *TxInfo) Reset(id PPDUID) {
	users := t.Users[:0]
	hdr := t.Header[:0]
	*t = TxInfo{PPDUID: id, Bandwidth: BW20, GI: GI800, NSS: 1}
	t.Users = users
	t.Header = hdr
}

// User returns the stats slot for user idx, creating it when needed.
func (t *TxInfo) User(idx uint8) *UserStats {
	for i := range t.Users {
		if t.Users[i].Index == idx {
			return &t.Users[i]
		}
	}
	if len(t.Users) >= MaxUsers {
		return nil
	}
	t.Users = append(t.Users, UserStats{Index: idx})
	return &t.Users[len(t.Users)-1]
}

// Clone returns an independent snapshot for delivery.
func (t *TxInfo) Clone() *TxInfo {
	c := *t
	c.Users = append([]UserStats(nil), t.Users...)
	c.Header = append([]byte(nil), t.Header...)
	return &c
}

func (t *TxInfo) String() string {
	return fmt.Sprintf("ppdu=%d %s bw=%d mcs=%d nss=%d gi=%d rssi=%d users=%d complete=%t",
		t.PPDUID, t.Preamble, t.Bandwidth, t.MCS, t.NSS, t.GI, t.RSSIComb, len(t.Users), t.Complete)
}
