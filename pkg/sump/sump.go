// Package sump implements the SUMP logic analyzer command set: short
// commands are a single opcode byte, long commands are an opcode byte
// followed by a 4-byte little-endian payload.
package sump

import (
	"encoding/binary"
	"fmt"
)

// Command opcodes
const (
	CMD_RESET = 0x00
	CMD_RUN   = 0x01
	CMD_ID    = 0x02
	CMD_XON   = 0x11
	CMD_XOFF  = 0x13

	// Trigger register families. The physical stage is selected by adding
	// 4*slot to the family base.
	CMD_SET_TRIGGER_MASK   = 0xC0
	CMD_SET_TRIGGER_VALUES = 0xC1
	CMD_SET_TRIGGER_CONF   = 0xC2

	CMD_SET_DIVIDER              = 0x80
	CMD_SET_READ_AND_DELAY_COUNT = 0x81
	CMD_SET_FLAGS                = 0x82
)

// Flag register bits
const (
	FLAG_DEMUX                    = 0x00000001
	FLAG_FILTER                   = 0x00000002
	FLAG_CHANNEL_GROUP_0_DISABLED = 0x00000004
	FLAG_CHANNEL_GROUP_1_DISABLED = 0x00000008
	FLAG_CHANNEL_GROUP_2_DISABLED = 0x00000010
	FLAG_CHANNEL_GROUP_3_DISABLED = 0x00000020
	FLAG_EXTERNAL_CLOCK           = 0x00000040
	FLAG_INVERT_EXTERNAL_CLOCK    = 0x00000080
)

const (
	// NumStages is the number of hardware trigger stages.
	NumStages = 4

	// MaxLevel is the highest trigger level a stage can be assigned.
	MaxLevel = 3

	// MaxChannel is the highest channel a serial stage can watch.
	MaxChannel = 31

	// MaxDelay is the largest delay the 16-bit delay register holds.
	MaxDelay = 0xFFFF

	// RecordSize is the length of a long command on the wire.
	RecordSize = 5

	// ResetCount is the number of reset bytes sent to resynchronise the
	// device command parser.
	ResetCount = 5
)

// DeviceID is the reply to CMD_ID ("1ALS" little-endian).
const DeviceID = 0x534c4131

// Trigger configuration word layout
const (
	confDelayMask    = 0x0000FFFF
	confLevelShift   = 16
	confChannelShift = 20
	confChannelHigh  = 1 << 24
	confSerial       = 1 << 26
	confStart        = 1 << 27
)

// TriggerStage holds the register values of one hardware trigger stage.
type TriggerStage struct {
	Mask    uint32 `json:"mask"`
	Values  uint32 `json:"values"`
	Delay   uint16 `json:"delay"`
	Level   uint8  `json:"level"`
	Channel uint8  `json:"channel"`
	Serial  bool   `json:"serial"`
	Start   bool   `json:"start"`
}

// Stages is the full set of hardware trigger stages, indexed by slot.
type Stages [NumStages]TriggerStage

// Reset zeroes every stage.
func (s *Stages) Reset() {
	*s = Stages{}
}

// Record is one long command as sent on the wire.
type Record [RecordSize]byte

// Opcode returns the command byte.
func (r Record) Opcode() byte {
	return r[0]
}

// Payload returns the decoded 32-bit payload.
func (r Record) Payload() uint32 {
	return binary.LittleEndian.Uint32(r[1:])
}

// NewRecord builds a long command.
func NewRecord(op byte, payload uint32) Record {
	var r Record
	r[0] = op
	binary.LittleEndian.PutUint32(r[1:], payload)
	return r
}

// ConfigWord packs the configuration register of a stage.
func (st TriggerStage) ConfigWord() uint32 {
	w := uint32(st.Delay) & confDelayMask
	w |= uint32(st.Level&0x3) << confLevelShift
	w |= uint32(st.Channel&0xF) << confChannelShift
	if st.Channel&0x10 != 0 {
		w |= confChannelHigh
	}
	if st.Serial {
		w |= confSerial
	}
	if st.Start {
		w |= confStart
	}
	return w
}

// applyConfigWord unpacks a configuration register into st.
func (st *TriggerStage) applyConfigWord(w uint32) {
	st.Delay = uint16(w & confDelayMask)
	st.Level = uint8((w >> confLevelShift) & 0x3)
	st.Channel = uint8((w >> confChannelShift) & 0xF)
	if w&confChannelHigh != 0 {
		st.Channel |= 0x10
	}
	st.Serial = w&confSerial != 0
	st.Start = w&confStart != 0
}

// EncodeStage returns the mask, values and configuration records for the
// stage in the given slot.
func EncodeStage(slot int, st TriggerStage) ([3]Record, error) {
	var recs [3]Record
	if slot < 0 || slot >= NumStages {
		return recs, fmt.Errorf("sump: trigger slot %d out of range", slot)
	}
	if st.Level > MaxLevel {
		return recs, fmt.Errorf("sump: trigger level %d out of range", st.Level)
	}
	if st.Channel > MaxChannel {
		return recs, fmt.Errorf("sump: trigger channel %d out of range", st.Channel)
	}
	off := byte(4 * slot)
	recs[0] = NewRecord(CMD_SET_TRIGGER_MASK+off, st.Mask)
	recs[1] = NewRecord(CMD_SET_TRIGGER_VALUES+off, st.Values)
	recs[2] = NewRecord(CMD_SET_TRIGGER_CONF+off, st.ConfigWord())
	return recs, nil
}

// TriggerSlot decodes a trigger register opcode into its slot and family
// base. ok is false for opcodes outside the trigger families.
func TriggerSlot(op byte) (slot int, family byte, ok bool) {
	if op < CMD_SET_TRIGGER_MASK || op > CMD_SET_TRIGGER_CONF+4*(NumStages-1) {
		return 0, 0, false
	}
	rel := op - CMD_SET_TRIGGER_MASK
	family = CMD_SET_TRIGGER_MASK + rel%4
	if family > CMD_SET_TRIGGER_CONF {
		return 0, 0, false
	}
	return int(rel / 4), family, true
}

// DecodeStage reassembles a stage from its three records. The records may be
// in any order but must address the same slot.
func DecodeStage(recs [3]Record) (int, TriggerStage, error) {
	var st TriggerStage
	slot := -1
	var seen [3]bool
	for _, r := range recs {
		s, family, ok := TriggerSlot(r.Opcode())
		if !ok {
			return 0, st, fmt.Errorf("sump: opcode 0x%02x is not a trigger register", r.Opcode())
		}
		if slot >= 0 && s != slot {
			return 0, st, fmt.Errorf("sump: records address slots %d and %d", slot, s)
		}
		slot = s
		idx := int(family - CMD_SET_TRIGGER_MASK)
		if seen[idx] {
			return 0, st, fmt.Errorf("sump: duplicate record 0x%02x", r.Opcode())
		}
		seen[idx] = true
		switch family {
		case CMD_SET_TRIGGER_MASK:
			st.Mask = r.Payload()
		case CMD_SET_TRIGGER_VALUES:
			st.Values = r.Payload()
		case CMD_SET_TRIGGER_CONF:
			st.applyConfigWord(r.Payload())
		}
	}
	return slot, st, nil
}

// EncodeReset returns the reset sequence.
func EncodeReset() []byte {
	return make([]byte, ResetCount)
}

// EncodeDivider returns the divider command. Only the low 24 bits are used.
func EncodeDivider(divider uint32) Record {
	return NewRecord(CMD_SET_DIVIDER, divider&0x00FFFFFF)
}

// EncodeSize returns the read and delay count command. Both counts are in
// units of four samples, minus one.
func EncodeSize(readCount, delayCount uint16) Record {
	return NewRecord(CMD_SET_READ_AND_DELAY_COUNT, uint32(readCount)|uint32(delayCount)<<16)
}

// DecodeSize splits a read and delay count payload.
func DecodeSize(payload uint32) (readCount, delayCount uint16) {
	return uint16(payload), uint16(payload >> 16)
}

// EncodeFlags returns the flags command.
func EncodeFlags(flags uint32) Record {
	return NewRecord(CMD_SET_FLAGS, flags)
}

// GroupDisabledFlag returns the flag that disables channel group g.
func GroupDisabledFlag(g int) uint32 {
	return FLAG_CHANNEL_GROUP_0_DISABLED << uint(g)
}

// IsLong reports whether op is followed by a 4-byte payload.
func IsLong(op byte) bool {
	return op&0x80 != 0
}
