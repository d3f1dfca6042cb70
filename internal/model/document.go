package model

import (
	"encoding/binary"
	"fmt"
)

// DocumentID identifies a document for its whole lifetime
type DocumentID uint64

// AttributeID is the position of an attribute in the schema
type AttributeID uint16

// DocIndexSize is the encoded size of one DocIndex
const DocIndexSize = 16

// DocIndex is one postings entry: an occurrence of a term in a document
type DocIndex struct {
	DocumentID DocumentID
	Attribute  AttributeID
	WordIndex  uint16
	CharIndex  uint16
	CharLength uint16
}

// Less orders postings by document, then attribute, then word position
func (d DocIndex) Less(o DocIndex) bool {
	if d.DocumentID != o.DocumentID {
		return d.DocumentID < o.DocumentID
	}
	if d.Attribute != o.Attribute {
		return d.Attribute < o.Attribute
	}
	return d.WordIndex < o.WordIndex
}

// EncodePostings packs a postings list as fixed-size big-endian records
func EncodePostings(postings []DocIndex) []byte {
	buf := make([]byte, len(postings)*DocIndexSize)
	for i, p := range postings {
		b := buf[i*DocIndexSize:]
		binary.BigEndian.PutUint64(b[0:8], uint64(p.DocumentID))
		binary.BigEndian.PutUint16(b[8:10], uint16(p.Attribute))
		binary.BigEndian.PutUint16(b[10:12], p.WordIndex)
		binary.BigEndian.PutUint16(b[12:14], p.CharIndex)
		binary.BigEndian.PutUint16(b[14:16], p.CharLength)
	}
	return buf
}

// DecodePostings unpacks a postings list written by EncodePostings
func DecodePostings(data []byte) ([]DocIndex, error) {
	if len(data)%DocIndexSize != 0 {
		return nil, fmt.Errorf("postings list size %d is not a multiple of %d", len(data), DocIndexSize)
	}

	postings := make([]DocIndex, len(data)/DocIndexSize)
	for i := range postings {
		b := data[i*DocIndexSize:]
		postings[i] = DocIndex{
			DocumentID: DocumentID(binary.BigEndian.Uint64(b[0:8])),
			Attribute:  AttributeID(binary.BigEndian.Uint16(b[8:10])),
			WordIndex:  binary.BigEndian.Uint16(b[10:12]),
			CharIndex:  binary.BigEndian.Uint16(b[12:14]),
			CharLength: binary.BigEndian.Uint16(b[14:16]),
		}
	}
	return postings, nil
}
