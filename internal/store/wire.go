package store

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
)

// Wire framing: magic u32 | type u16 | flags u16 | bodyLen u32, then
// bodyLen bytes of body. Two message kinds cross the peer link:
// heartbeats and record streaming (steady replication or recovery).
const wireMagic uint32 = 0x4D445253 // "MDRS"

const wireHeaderSize = 12

// maxWireBody caps a single message; anything larger is framing
// corruption and drops the connection.
const maxWireBody = 16 << 20

type msgType uint16

const (
	msgHeartbeat msgType = iota + 1
	msgReplicate
)

const (
	// flagRecovery marks a record streamed during a catch-up pass
	// rather than steady-state replication.
	flagRecovery uint16 = 1 << iota
	// flagCompressed marks an s2-compressed record payload.
	flagCompressed
)

func writeMsg(w io.Writer, typ msgType, flags uint16, body []byte) error {
	var hdr [wireHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], wireMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], uint16(typ))
	binary.LittleEndian.PutUint16(hdr[6:8], flags)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readMsg(r io.Reader) (msgType, uint16, []byte, error) {
	var hdr [wireHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, nil, err
	}
	if m := binary.LittleEndian.Uint32(hdr[0:4]); m != wireMagic {
		return 0, 0, nil, fmt.Errorf("bad wire magic %#x", m)
	}
	typ := msgType(binary.LittleEndian.Uint16(hdr[4:6]))
	flags := binary.LittleEndian.Uint16(hdr[6:8])
	n := binary.LittleEndian.Uint32(hdr[8:12])
	if n > maxWireBody {
		return 0, 0, nil, fmt.Errorf("wire body of %d bytes exceeds cap", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, 0, nil, err
	}
	return typ, flags, body, nil
}

// heartbeat carries the sender's identity, state and replication
// progress. The database count doubles as a topology cross-check.
type heartbeat struct {
	HostID   uint32
	State    HostState
	Priority uint32
	DBState  DBState
}

func (hb heartbeat) encode() []byte {
	buf := make([]byte, 11+8*len(hb.DBState))
	binary.LittleEndian.PutUint32(buf[0:4], hb.HostID)
	buf[4] = byte(hb.State)
	binary.LittleEndian.PutUint32(buf[5:9], hb.Priority)
	binary.LittleEndian.PutUint16(buf[9:11], uint16(len(hb.DBState)))
	for i, rn := range hb.DBState {
		binary.LittleEndian.PutUint64(buf[11+8*i:], rn)
	}
	return buf
}

func decodeHeartbeat(body []byte) (heartbeat, error) {
	if len(body) < 11 {
		return heartbeat{}, fmt.Errorf("heartbeat body of %d bytes", len(body))
	}
	hb := heartbeat{
		HostID:   binary.LittleEndian.Uint32(body[0:4]),
		State:    HostState(body[4]),
		Priority: binary.LittleEndian.Uint32(body[5:9]),
	}
	n := int(binary.LittleEndian.Uint16(body[9:11]))
	if len(body) != 11+8*n {
		return heartbeat{}, fmt.Errorf("heartbeat with %d databases in %d bytes", n, len(body))
	}
	hb.DBState = make(DBState, n)
	for i := range hb.DBState {
		hb.DBState[i] = binary.LittleEndian.Uint64(body[11+8*i:])
	}
	return hb, nil
}

// replicate carries one committed record. Payloads past the compression
// threshold travel s2-compressed.
type replicate struct {
	DB      uint16
	RN      uint64
	HeadKey string
	Data    []byte
}

const compressThreshold = 512

func (rp replicate) encode() ([]byte, uint16) {
	var flags uint16
	data := rp.Data
	if len(data) >= compressThreshold {
		if c := s2.Encode(nil, data); len(c) < len(data) {
			data = c
			flags = flagCompressed
		}
	}

	buf := make([]byte, 0, 14+len(rp.HeadKey)+len(data))
	var scratch [8]byte
	binary.LittleEndian.PutUint16(scratch[:2], rp.DB)
	buf = append(buf, scratch[:2]...)
	binary.LittleEndian.PutUint64(scratch[:8], rp.RN)
	buf = append(buf, scratch[:8]...)
	binary.LittleEndian.PutUint16(scratch[:2], uint16(len(rp.HeadKey)))
	buf = append(buf, scratch[:2]...)
	buf = append(buf, rp.HeadKey...)
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(data)))
	buf = append(buf, scratch[:4]...)
	buf = append(buf, data...)
	return buf, flags
}

func decodeReplicate(body []byte, flags uint16) (replicate, error) {
	if len(body) < 12 {
		return replicate{}, fmt.Errorf("replicate body of %d bytes", len(body))
	}
	rp := replicate{
		DB: binary.LittleEndian.Uint16(body[0:2]),
		RN: binary.LittleEndian.Uint64(body[2:10]),
	}
	keyLen := int(binary.LittleEndian.Uint16(body[10:12]))
	if len(body) < 12+keyLen+4 {
		return replicate{}, fmt.Errorf("replicate body truncated at head key")
	}
	rp.HeadKey = string(body[12 : 12+keyLen])
	off := 12 + keyLen
	dataLen := int(binary.LittleEndian.Uint32(body[off : off+4]))
	off += 4
	if len(body) != off+dataLen {
		return replicate{}, fmt.Errorf("replicate body truncated at payload")
	}
	rp.Data = body[off:]

	if flags&flagCompressed != 0 {
		dec, err := s2.Decode(nil, rp.Data)
		if err != nil {
			return replicate{}, fmt.Errorf("decompress record: %w", err)
		}
		rp.Data = dec
	}
	return rp, nil
}
