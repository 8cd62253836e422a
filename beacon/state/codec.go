package state

import (
	ssz "github.com/ferranbt/fastssz"

	"github.com/celer-network/go-bridge-relayer/relayerr"
)

// reader walks the fixed part of an SSZ container. Bounds are checked once
// against the expected fixed size before reading starts.
type reader struct {
	buf     []byte
	pos     int
	offsets []uint64
}

func (r *reader) read(dst []byte) {
	copy(dst, r.buf[r.pos:r.pos+len(dst)])
	r.pos += len(dst)
}

func (r *reader) uint64() uint64 {
	v := ssz.UnmarshallUint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v
}

func (r *reader) root() (out Root) {
	r.read(out[:])
	return out
}

func (r *reader) byte() byte {
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *reader) bool() (bool, error) {
	switch r.byte() {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, relayerr.Decodef("invalid boolean at byte %d", r.pos-1)
}

func (r *reader) roots(n uint64) []Root {
	out := make([]Root, n)
	for i := range out {
		out[i] = r.root()
	}
	return out
}

func (r *reader) uint64s(n uint64) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = r.uint64()
	}
	return out
}

// offset records the next variable-size field's offset.
func (r *reader) offset() {
	r.offsets = append(r.offsets, uint64(ssz.ReadOffset(r.buf[r.pos:r.pos+4])))
	r.pos += 4
}

// tails validates the recorded offsets against a container of total length
// size whose fixed part ends at fixed, and returns the variable-size slices in
// field order.
func (r *reader) tails(buf []byte, fixed int) ([][]byte, error) {
	if len(r.offsets) == 0 {
		if len(buf) != fixed {
			return nil, relayerr.Decodef("container has %d trailing bytes", len(buf)-fixed)
		}
		return nil, nil
	}
	if r.offsets[0] != uint64(fixed) {
		return nil, relayerr.Decode(ssz.ErrOffset, "first offset %d, fixed part is %d bytes", r.offsets[0], fixed)
	}
	out := make([][]byte, len(r.offsets))
	for i, start := range r.offsets {
		end := uint64(len(buf))
		if i+1 < len(r.offsets) {
			end = r.offsets[i+1]
		}
		if start > end || end > uint64(len(buf)) {
			return nil, relayerr.Decode(ssz.ErrOffset, "offset %d out of order (%d..%d of %d)", i, start, end, len(buf))
		}
		out[i] = buf[start:end]
	}
	return out, nil
}

func decodeRoots(field string, b []byte, limit uint64) ([]Root, error) {
	n, err := listLen(field, b, 32, limit)
	if err != nil {
		return nil, err
	}
	r := &reader{buf: b}
	return r.roots(n), nil
}

func decodeUint64s(field string, b []byte, limit uint64) ([]uint64, error) {
	n, err := listLen(field, b, 8, limit)
	if err != nil {
		return nil, err
	}
	r := &reader{buf: b}
	return r.uint64s(n), nil
}

func decodeBytes(field string, b []byte, limit uint64) ([]byte, error) {
	if uint64(len(b)) > limit {
		return nil, relayerr.Decode(ssz.ErrListTooBig, "%s: %d bytes, limit %d", field, len(b), limit)
	}
	return append([]byte(nil), b...), nil
}

func listLen(field string, b []byte, itemSize int, limit uint64) (uint64, error) {
	if len(b)%itemSize != 0 {
		return 0, relayerr.Decode(ssz.ErrSize, "%s: %d bytes is not a multiple of %d", field, len(b), itemSize)
	}
	n := uint64(len(b) / itemSize)
	if n > limit {
		return 0, relayerr.Decode(ssz.ErrListTooBig, "%s: %d items, limit %d", field, n, limit)
	}
	return n, nil
}

// decodeList decodes a list of fixed-size containers.
func decodeList[T any](field string, b []byte, itemSize int, limit uint64, decode func(*T, *reader) error) ([]T, error) {
	n, err := listLen(field, b, itemSize, limit)
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	r := &reader{buf: b}
	for i := range out {
		if err := decode(&out[i], r); err != nil {
			return nil, relayerr.Decode(err, "%s[%d]", field, i)
		}
	}
	return out, nil
}

func appendRoots(dst []byte, roots []Root) []byte {
	for i := range roots {
		dst = append(dst, roots[i][:]...)
	}
	return dst
}

func appendUint64s(dst []byte, vs []uint64) []byte {
	for _, v := range vs {
		dst = ssz.MarshalUint64(dst, v)
	}
	return dst
}

// hashing helpers shared by the state and payload header

func hashRoots(hh ssz.HashWalker, roots []Root) {
	indx := hh.Index()
	for i := range roots {
		hh.Append(roots[i][:])
	}
	hh.Merkleize(indx)
}

func hashRootList(hh ssz.HashWalker, roots []Root, limit uint64) {
	indx := hh.Index()
	for i := range roots {
		hh.Append(roots[i][:])
	}
	hh.MerkleizeWithMixin(indx, uint64(len(roots)), limit)
}

func hashUint64Vector(hh ssz.HashWalker, vs []uint64) {
	indx := hh.Index()
	for _, v := range vs {
		hh.AppendUint64(v)
	}
	hh.FillUpTo32()
	hh.Merkleize(indx)
}

func hashUint64List(hh ssz.HashWalker, vs []uint64, limit uint64) {
	indx := hh.Index()
	for _, v := range vs {
		hh.AppendUint64(v)
	}
	hh.FillUpTo32()
	hh.MerkleizeWithMixin(indx, uint64(len(vs)), (limit*8+31)/32)
}

func hashByteList(hh ssz.HashWalker, b []byte, limit uint64) {
	indx := hh.Index()
	hh.Append(b)
	hh.FillUpTo32()
	hh.MerkleizeWithMixin(indx, uint64(len(b)), (limit+31)/32)
}

type hashable interface {
	HashTreeRootWith(hh ssz.HashWalker) error
}

func hashRoot(v hashable) ([32]byte, error) {
	hh := ssz.NewHasher()
	if err := v.HashTreeRootWith(hh); err != nil {
		return [32]byte{}, err
	}
	return hh.HashRoot()
}

func hashList[T any, P interface {
	*T
	hashable
}](hh ssz.HashWalker, items []T, limit uint64) error {
	indx := hh.Index()
	for i := range items {
		if err := P(&items[i]).HashTreeRootWith(hh); err != nil {
			return err
		}
	}
	hh.MerkleizeWithMixin(indx, uint64(len(items)), limit)
	return nil
}

// fieldHasher pushes exactly one 32 byte field root onto the walker.
type fieldHasher func(hh ssz.HashWalker) error

func merkleizeFields(hh ssz.HashWalker, fields []fieldHasher) error {
	indx := hh.Index()
	for _, f := range fields {
		if err := f(hh); err != nil {
			return err
		}
	}
	hh.Merkleize(indx)
	return nil
}

func fieldRoots(fields []fieldHasher) ([][]byte, error) {
	roots := make([][]byte, len(fields))
	for i, f := range fields {
		hh := ssz.NewHasher()
		if err := f(hh); err != nil {
			return nil, err
		}
		root, err := hh.HashRoot()
		if err != nil {
			return nil, err
		}
		roots[i] = root[:]
	}
	return roots, nil
}

func infallible[T any](f func(*T, *reader)) func(*T, *reader) error {
	return func(v *T, r *reader) error {
		f(v, r)
		return nil
	}
}
