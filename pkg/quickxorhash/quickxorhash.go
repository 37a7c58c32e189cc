// Package quickxorhash implements QuickXorHash, the content hash SharePoint
// document libraries report for every file.
//
// Each input byte is XORed into a 160-bit circular buffer at a bit offset
// that advances by 11 per byte. The digest is the buffer with the total
// input length XORed little-endian into its last 8 bytes.
//
// https://learn.microsoft.com/en-us/onedrive/developer/code-snippets/quickxorhash
package quickxorhash

import (
	"encoding/base64"
	"encoding/binary"
	"hash"
)

const (
	// Size is the length, in bytes, of a QuickXorHash digest.
	Size = 20

	// BlockSize is the preferred input block size for the hash, in bytes.
	BlockSize = 64

	shift       = 11
	widthInBits = Size * 8
)

type digest struct {
	buf    [Size]byte
	offset int // current bit position in buf
	length uint64
}

// New returns a new hash.Hash computing the QuickXorHash checksum.
func New() hash.Hash {
	return &digest{}
}

// Write absorbs more data into the running hash. It never fails.
func (d *digest) Write(p []byte) (int, error) {
	for _, b := range p {
		idx, bit := d.offset/8, d.offset%8
		d.buf[idx] ^= b << bit

		// The byte straddles a cell boundary; spill the high bits into the
		// next cell, wrapping at the end of the buffer.
		if bit > 0 {
			d.buf[(idx+1)%Size] ^= b >> (8 - bit)
		}

		d.offset = (d.offset + shift) % widthInBits
	}

	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the current hash to b. It does not change the running state.
func (d *digest) Sum(b []byte) []byte {
	out := d.buf

	var lengthBytes [8]byte
	binary.LittleEndian.PutUint64(lengthBytes[:], d.length)

	for i, lb := range lengthBytes {
		out[Size-len(lengthBytes)+i] ^= lb
	}

	return append(b, out[:]...)
}

func (d *digest) Reset() {
	*d = digest{}
}

func (d *digest) Size() int {
	return Size
}

func (d *digest) BlockSize() int {
	return BlockSize
}

// Encode returns the standard base64 form of a digest, which is how the
// Graph API reports quickXorHash values.
func Encode(sum []byte) string {
	return base64.StdEncoding.EncodeToString(sum)
}
