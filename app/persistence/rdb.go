package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/respkv/respkv/app/database"
)

// ref: https://rdb.fnordig.de/file_format.html

const (
	magicString = "REDIS"
	versionLen  = 4
)

const (
	opCodeAux          = 0xFA
	opCodeResizeDB     = 0xFB
	opCodeExpireTimeMS = 0xFC
	opCodeExpireTime   = 0xFD
	opCodeSelectDB     = 0xFE
	opCodeEOF          = 0xFF
)

// value types
const (
	typeString = 0x00
)

// Size encoding, selected by the two high bits of the first byte.
const (
	size6Bit  = 0b00
	size14Bit = 0b01
	size32Bit = 0b10
	sizeSpec  = 0b11
)

// String encodings following a sizeSpec first byte.
const (
	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3
)

var (
	// ErrCorrupt is returned for a truncated or malformed snapshot.
	ErrCorrupt = errors.New("rdb: corrupt snapshot")
	// ErrUnsupportedEncoding is returned for valid encodings this decoder does not handle.
	ErrUnsupportedEncoding = errors.New("rdb: unsupported encoding")
)

// RDB is the decoded content of a snapshot file.
type RDB struct {
	Version int
	Aux     map[string]string
	// Datas holds the unexpired string keys of database 0.
	Datas map[string]database.Data
	// Expired counts records dropped because their expiry had passed.
	Expired int
}

//
// ----------------------------#
// 52 45 44 49 53              # Magic String "REDIS"
// 30 30 31 31                 # RDB Version Number as ASCII string. "0011" = 11
// ----------------------------
// FA                          # Auxiliary field
// $string-encoded-key         # May contain arbitrary metadata
// $string-encoded-value       # such as Redis version, creation time, used memory, ...
// ----------------------------
// FE 00                       # Start of database 0 (size encoded index)
// FB $size $size              # Hash table size, expire hash table size
// [FC $ms-8-bytes-LE | FD $sec-4-bytes-LE] $type $key $value ...
// ----------------------------
// FF                          # End of RDB file indicator
// 8-byte-checksum             # CRC64 checksum of the entire file, not verified

// UnMarshalRDB decodes b. Records whose expiry is not after now are parsed
// and dropped.
func UnMarshalRDB(b []byte, now time.Time) (*RDB, error) {
	d := &decoder{buf: b}
	if len(b) < len(magicString)+versionLen || string(b[:len(magicString)]) != magicString {
		return nil, fmt.Errorf("%w: invalid magic string", ErrCorrupt)
	}
	d.pos = len(magicString)
	verStr := string(d.buf[d.pos : d.pos+versionLen])
	ver, err := strconv.Atoi(verStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid version %q", ErrCorrupt, verStr)
	}
	d.pos += versionLen

	rdb := &RDB{
		Version: ver,
		Aux:     make(map[string]string),
		Datas:   make(map[string]database.Data),
	}
	dbIndex := uint32(0)
	for {
		opCode, err := d.readByte()
		if err != nil {
			return nil, fmt.Errorf("fail to read opCode: %w", err)
		}
		switch opCode {
		case opCodeEOF:
			return rdb, nil
		case opCodeAux:
			key, err := d.readString()
			if err != nil {
				return nil, fmt.Errorf("fail to read aux key: %w", err)
			}
			val, err := d.readString()
			if err != nil {
				return nil, fmt.Errorf("fail to read aux %s: %w", key, err)
			}
			rdb.Aux[key] = val
		case opCodeSelectDB:
			if dbIndex, err = d.readSize(); err != nil {
				return nil, fmt.Errorf("fail to read db index: %w", err)
			}
		case opCodeResizeDB:
			tableSize, err := d.readSize()
			if err != nil {
				return nil, fmt.Errorf("fail to read hash table size: %w", err)
			}
			// expire hash table size is only a sizing hint
			if _, err := d.readSize(); err != nil {
				return nil, fmt.Errorf("fail to read expire hash table size: %w", err)
			}
			for i := uint32(0); i < tableSize; i++ {
				first, err := d.readByte()
				if err != nil {
					return nil, fmt.Errorf("fail to read record %d: %w", i, err)
				}
				if err := rdb.readRecord(d, first, dbIndex, now); err != nil {
					return nil, fmt.Errorf("fail to read record %d: %w", i, err)
				}
			}
		case opCodeExpireTimeMS, opCodeExpireTime, typeString:
			// records without a preceding resize hint
			if err := rdb.readRecord(d, opCode, dbIndex, now); err != nil {
				return nil, fmt.Errorf("fail to read record: %w", err)
			}
		default:
			return nil, fmt.Errorf("%w: unknown opCode 0x%02x at offset %d", ErrCorrupt, opCode, d.pos-1)
		}
	}
}

// readRecord reads one key-value record whose first byte has already been
// consumed.
func (r *RDB) readRecord(d *decoder, first byte, dbIndex uint32, now time.Time) error {
	var expiresAt time.Time
	keyType := first
	switch first {
	case opCodeExpireTimeMS:
		b, err := d.readN(8)
		if err != nil {
			return fmt.Errorf("fail to read timestamp: %w", err)
		}
		expiresAt = time.UnixMilli(int64(binary.LittleEndian.Uint64(b)))
		if keyType, err = d.readByte(); err != nil {
			return fmt.Errorf("fail to read key type: %w", err)
		}
	case opCodeExpireTime:
		b, err := d.readN(4)
		if err != nil {
			return fmt.Errorf("fail to read timestamp: %w", err)
		}
		expiresAt = time.Unix(int64(binary.LittleEndian.Uint32(b)), 0)
		if keyType, err = d.readByte(); err != nil {
			return fmt.Errorf("fail to read key type: %w", err)
		}
	}
	if keyType != typeString {
		return fmt.Errorf("%w: key type 0x%02x", ErrUnsupportedEncoding, keyType)
	}
	key, err := d.readString()
	if err != nil {
		return fmt.Errorf("fail to read key: %w", err)
	}
	val, err := d.readString()
	if err != nil {
		return fmt.Errorf("fail to read value of %s: %w", key, err)
	}

	if dbIndex != 0 {
		return nil
	}
	data := database.NewString(val, expiresAt)
	if data.Expired(now) {
		r.Expired++
		return nil
	}
	r.Datas[key] = data
	return nil
}

// decodeSize decodes a size-encoded integer from the start of b, returning
// the value and the number of bytes used. The special 0b11 form is reported
// as ErrUnsupportedEncoding.
func decodeSize(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("%w: size truncated", ErrCorrupt)
	}
	switch b[0] >> 6 {
	case size6Bit:
		return uint32(b[0] & 0b00111111), 1, nil
	case size14Bit:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("%w: size truncated", ErrCorrupt)
		}
		return uint32(b[0]&0b00111111)<<8 | uint32(b[1]), 2, nil
	case size32Bit:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("%w: size truncated", ErrCorrupt)
		}
		return binary.BigEndian.Uint32(b[1:5]), 5, nil
	default:
		return 0, 0, fmt.Errorf("%w: special size format 0x%02x", ErrUnsupportedEncoding, b[0])
	}
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) readByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("%w: unexpected end of file", ErrCorrupt)
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if n < 0 || len(d.buf)-d.pos < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrCorrupt, n, d.pos, len(d.buf)-d.pos)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readSize() (uint32, error) {
	size, n, err := decodeSize(d.buf[d.pos:])
	if err != nil {
		return 0, err
	}
	d.pos += n
	return size, nil
}

// readString reads a length-prefixed string. Integer-encoded strings are
// returned in decimal form.
func (d *decoder) readString() (string, error) {
	if d.pos < len(d.buf) && d.buf[d.pos]>>6 == sizeSpec {
		enc := d.buf[d.pos] & 0b00111111
		d.pos++
		switch enc {
		case encInt8:
			b, err := d.readN(1)
			if err != nil {
				return "", err
			}
			return strconv.Itoa(int(int8(b[0]))), nil
		case encInt16:
			b, err := d.readN(2)
			if err != nil {
				return "", err
			}
			return strconv.Itoa(int(int16(binary.LittleEndian.Uint16(b)))), nil
		case encInt32:
			b, err := d.readN(4)
			if err != nil {
				return "", err
			}
			return strconv.Itoa(int(int32(binary.LittleEndian.Uint32(b)))), nil
		case encLZF:
			return "", fmt.Errorf("%w: compressed string", ErrUnsupportedEncoding)
		default:
			return "", fmt.Errorf("%w: string encoding %d", ErrUnsupportedEncoding, enc)
		}
	}
	size, err := d.readSize()
	if err != nil {
		return "", err
	}
	b, err := d.readN(int(size))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
