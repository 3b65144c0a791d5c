package core

import (
	"fmt"

	"github.com/scigolib/bptree/internal/utils"
)

// Entry is a single element stored in a node: either a Record carrying data
// or a Reference pointing at child pages. Ordering is defined solely on the
// key.
type Entry interface {
	// EntryKey returns the logical key of the entry.
	EntryKey() any
	// Load decodes the entry from its fixed-width serialized form.
	Load(conf *TreeConf, data []byte) error
	// Dump encodes the entry to its fixed-width serialized form.
	Dump(conf *TreeConf) ([]byte, error)
}

// Record holds the actual data the tree stores. Exactly one of Value and
// OverflowPage is set: small values live inline, larger ones in a chain of
// overflow pages starting at OverflowPage.
type Record struct {
	Key          any
	Value        []byte
	OverflowPage uint32
}

// EntryKey implements Entry.
func (r *Record) EntryKey() any { return r.Key }

// Load decodes a Record from data, which must be exactly
// conf.RecordBytes() long.
func (r *Record) Load(conf *TreeConf, data []byte) error {
	if len(data) != conf.RecordBytes() {
		return fmt.Errorf("%w: record length %d, expected %d",
			ErrCorruptPage, len(data), conf.RecordBytes())
	}

	usedKeyLength := int(utils.Uint16(data[0:UsedKeyLengthBytes]))
	if usedKeyLength > conf.KeySize {
		return fmt.Errorf("%w: key length %d exceeds key size %d",
			ErrCorruptPage, usedKeyLength, conf.KeySize)
	}
	endKey := UsedKeyLengthBytes + usedKeyLength
	key, err := conf.Serializer.Deserialize(data[UsedKeyLengthBytes:endKey])
	if err != nil {
		return utils.WrapError("record key decode failed", err)
	}
	r.Key = key

	startUsedValueLength := UsedKeyLengthBytes + conf.KeySize
	endUsedValueLength := startUsedValueLength + UsedValueLengthBytes
	usedValueLength := int(utils.Uint16(data[startUsedValueLength:endUsedValueLength]))
	if usedValueLength > conf.ValueSize {
		return fmt.Errorf("%w: value length %d exceeds value size %d",
			ErrCorruptPage, usedValueLength, conf.ValueSize)
	}

	startOverflow := endUsedValueLength + conf.ValueSize
	overflowPage := utils.Uint32(data[startOverflow : startOverflow+PageReferenceBytes])

	if overflowPage != 0 {
		r.OverflowPage = overflowPage
		r.Value = nil
	} else {
		r.OverflowPage = 0
		r.Value = append([]byte(nil), data[endUsedValueLength:endUsedValueLength+usedValueLength]...)
	}
	return nil
}

// Dump encodes the Record to conf.RecordBytes() bytes.
func (r *Record) Dump(conf *TreeConf) ([]byte, error) {
	keyBytes, err := conf.Serializer.Serialize(r.Key, conf.KeySize)
	if err != nil {
		return nil, utils.WrapError("record key encode failed", err)
	}
	if len(keyBytes) > conf.KeySize {
		return nil, ErrKeyTooLarge
	}

	value := r.Value
	if r.OverflowPage != 0 {
		value = nil
	}
	if len(value) > conf.ValueSize {
		return nil, ErrValueTooLarge
	}

	data := make([]byte, conf.RecordBytes())
	utils.PutUint16(data[0:UsedKeyLengthBytes], uint16(len(keyBytes)))
	copy(data[UsedKeyLengthBytes:], keyBytes)

	startUsedValueLength := UsedKeyLengthBytes + conf.KeySize
	utils.PutUint16(data[startUsedValueLength:], uint16(len(value)))
	copy(data[startUsedValueLength+UsedValueLengthBytes:], value)

	startOverflow := startUsedValueLength + UsedValueLengthBytes + conf.ValueSize
	utils.PutUint32(data[startOverflow:], r.OverflowPage)
	return data, nil
}

// Reference points at the child pages on either side of a fence key: any key
// smaller than Key lives under Before, any key greater or equal under After.
type Reference struct {
	Key    any
	Before uint32
	After  uint32
}

// EntryKey implements Entry.
func (r *Reference) EntryKey() any { return r.Key }

// Load decodes a Reference from data, which must be exactly
// conf.ReferenceBytes() long.
func (r *Reference) Load(conf *TreeConf, data []byte) error {
	if len(data) != conf.ReferenceBytes() {
		return fmt.Errorf("%w: reference length %d, expected %d",
			ErrCorruptPage, len(data), conf.ReferenceBytes())
	}

	r.Before = utils.Uint32(data[0:PageReferenceBytes])

	endUsedKeyLength := PageReferenceBytes + UsedKeyLengthBytes
	usedKeyLength := int(utils.Uint16(data[PageReferenceBytes:endUsedKeyLength]))
	if usedKeyLength > conf.KeySize {
		return fmt.Errorf("%w: key length %d exceeds key size %d",
			ErrCorruptPage, usedKeyLength, conf.KeySize)
	}
	key, err := conf.Serializer.Deserialize(data[endUsedKeyLength : endUsedKeyLength+usedKeyLength])
	if err != nil {
		return utils.WrapError("reference key decode failed", err)
	}
	r.Key = key

	startAfter := endUsedKeyLength + conf.KeySize
	r.After = utils.Uint32(data[startAfter : startAfter+PageReferenceBytes])
	return nil
}

// Dump encodes the Reference to conf.ReferenceBytes() bytes.
func (r *Reference) Dump(conf *TreeConf) ([]byte, error) {
	keyBytes, err := conf.Serializer.Serialize(r.Key, conf.KeySize)
	if err != nil {
		return nil, utils.WrapError("reference key encode failed", err)
	}
	if len(keyBytes) > conf.KeySize {
		return nil, ErrKeyTooLarge
	}

	data := make([]byte, conf.ReferenceBytes())
	utils.PutUint32(data[0:], r.Before)
	utils.PutUint16(data[PageReferenceBytes:], uint16(len(keyBytes)))
	copy(data[PageReferenceBytes+UsedKeyLengthBytes:], keyBytes)
	utils.PutUint32(data[PageReferenceBytes+UsedKeyLengthBytes+conf.KeySize:], r.After)
	return data, nil
}
