package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Record slot magics. A zero magic marks the end of the written region;
// anything else unrecognized is corruption and fails the scan.
const (
	magicAllocated uint32 = 0x414C4C43 // "ALLC"
	magicCommitted uint32 = 0x434D5444 // "CMTD"
	magicAborted   uint32 = 0x41425254 // "ABRT"
	magicArchived  uint32 = 0x41524348 // "ARCH"
)

// Slot layout: magic u32 | dataLen u32 | keyLen u16 | key[maxHeadKey] |
// data[recordSize]. Fixed slot size keeps RN -> (file, offset) a pure
// computation.
const (
	slotHeaderSize = 10
	maxHeadKey     = 64
)

// recordFile is one fixed-capacity segment of a database. Slot i holds
// RN = fileIdx*recordsPerFile + i.
type recordFile struct {
	f        *os.File
	idx      uint64
	slotSize int64
}

func openRecordFile(dir, dbName string, idx uint64, slotSize int64) (*recordFile, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s-%06d.rec", dbName, idx))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open record file %s: %w", path, err)
	}
	return &recordFile{f: f, idx: idx, slotSize: slotSize}, nil
}

func (rf *recordFile) close() error { return rf.f.Close() }

// writeSlot overwrites slot with (magic, key, data). data shorter than
// the record size is zero padded; longer is a caller bug surfaced as an
// error.
func (rf *recordFile) writeSlot(slot uint64, magic uint32, key string, data []byte) error {
	if len(key) > maxHeadKey {
		return fmt.Errorf("head key %q exceeds %d bytes", key, maxHeadKey)
	}
	recordSize := rf.slotSize - slotHeaderSize - maxHeadKey
	if int64(len(data)) > recordSize {
		return fmt.Errorf("record of %d bytes exceeds record size %d", len(data), recordSize)
	}

	buf := make([]byte, rf.slotSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(len(key)))
	copy(buf[slotHeaderSize:], key)
	copy(buf[slotHeaderSize+maxHeadKey:], data)

	if _, err := rf.f.WriteAt(buf, int64(slot)*rf.slotSize); err != nil {
		return fmt.Errorf("write slot %d: %w", slot, err)
	}
	return nil
}

// setMagic rewrites only a slot's magic, used to abort or archive a
// record in place.
func (rf *recordFile) setMagic(slot uint64, magic uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], magic)
	if _, err := rf.f.WriteAt(b[:], int64(slot)*rf.slotSize); err != nil {
		return fmt.Errorf("set magic slot %d: %w", slot, err)
	}
	return nil
}

// readSlot returns (magic, key, data). A read past the written region
// returns magic 0 with no error.
func (rf *recordFile) readSlot(slot uint64) (uint32, string, []byte, error) {
	buf := make([]byte, rf.slotSize)
	n, err := rf.f.ReadAt(buf, int64(slot)*rf.slotSize)
	if err == io.EOF && n == 0 {
		return 0, "", nil, nil
	}
	if err != nil && err != io.EOF {
		return 0, "", nil, fmt.Errorf("read slot %d: %w", slot, err)
	}
	if int64(n) < rf.slotSize {
		return 0, "", nil, nil
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	dataLen := binary.LittleEndian.Uint32(buf[4:8])
	keyLen := binary.LittleEndian.Uint16(buf[8:10])
	if int(keyLen) > maxHeadKey || int64(dataLen) > rf.slotSize-slotHeaderSize-maxHeadKey {
		return 0, "", nil, fmt.Errorf("slot %d: corrupt header (keyLen=%d dataLen=%d)", slot, keyLen, dataLen)
	}

	key := string(buf[slotHeaderSize : slotHeaderSize+int(keyLen)])
	data := make([]byte, dataLen)
	copy(data, buf[slotHeaderSize+maxHeadKey:])
	return magic, key, data, nil
}

func (rf *recordFile) sync() error { return rf.f.Sync() }
