package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Fragment is one datagram-sized piece of a chunk.
//
// Wire layout: [hashLen uint16][hash][chunkIndex int32][fragmentIndex int32]
// [totalFragments int32][dataLen int32][data].
type Fragment struct {
	Hash       string
	ChunkIndex int
	Index      int
	Total      int
	Data       []byte
}

const fixedHeaderSize = 2 + 4*4

// maxFragments bounds the declared fragment count of a chunk so a hostile
// header cannot make the receiver allocate without limit.
const maxFragments = 1 << 16

func (f Fragment) MarshalBinary() ([]byte, error) {
	if len(f.Hash) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: hash too long (%d bytes)", ErrMalformed, len(f.Hash))
	}
	buf := make([]byte, fixedHeaderSize+len(f.Hash)+len(f.Data))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(f.Hash)))
	off := 2 + copy(buf[2:], f.Hash)
	binary.BigEndian.PutUint32(buf[off:], uint32(int32(f.ChunkIndex)))
	binary.BigEndian.PutUint32(buf[off+4:], uint32(int32(f.Index)))
	binary.BigEndian.PutUint32(buf[off+8:], uint32(int32(f.Total)))
	binary.BigEndian.PutUint32(buf[off+12:], uint32(int32(len(f.Data))))
	copy(buf[off+16:], f.Data)
	return buf, nil
}

// UnmarshalFragment decodes a fragment datagram. The returned Data aliases b.
func UnmarshalFragment(b []byte) (Fragment, error) {
	if len(b) < fixedHeaderSize {
		return Fragment{}, fmt.Errorf("%w: fragment too short (%d bytes)", ErrMalformed, len(b))
	}
	hashLen := int(binary.BigEndian.Uint16(b[0:2]))
	off := 2 + hashLen
	if len(b) < off+16 {
		return Fragment{}, fmt.Errorf("%w: truncated fragment header", ErrMalformed)
	}
	f := Fragment{
		Hash:       string(b[2:off]),
		ChunkIndex: int(int32(binary.BigEndian.Uint32(b[off:]))),
		Index:      int(int32(binary.BigEndian.Uint32(b[off+4:]))),
		Total:      int(int32(binary.BigEndian.Uint32(b[off+8:]))),
	}
	size := int(int32(binary.BigEndian.Uint32(b[off+12:])))
	rest := b[off+16:]
	if size < 0 || size > len(rest) {
		return Fragment{}, fmt.Errorf("%w: fragment declares %d bytes, %d present", ErrMalformed, size, len(rest))
	}
	if f.Total <= 0 || f.Total > maxFragments || f.Index < 0 || f.Index >= f.Total {
		return Fragment{}, fmt.Errorf("%w: fragment %d of %d", ErrMalformed, f.Index, f.Total)
	}
	f.Data = rest[:size]
	return f, nil
}

// Split cuts data into ceil(len/maxPayload) fragments. Empty data yields none.
func Split(hash string, chunkIndex int, data []byte, maxPayload int) []Fragment {
	if maxPayload <= 0 {
		maxPayload = MaxFragmentPayload
	}
	total := (len(data) + maxPayload - 1) / maxPayload
	frags := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPayload
		end := min(start+maxPayload, len(data))
		frags = append(frags, Fragment{
			Hash:       hash,
			ChunkIndex: chunkIndex,
			Index:      i,
			Total:      total,
			Data:       data[start:end],
		})
	}
	return frags
}

// Assembly collects the fragments of one outstanding chunk request. It is
// owned by a single fetch and is not safe for concurrent use.
type Assembly struct {
	hash       string
	chunkIndex int
	total      int
	fragments  map[int][]byte
}

func NewAssembly(hash string, chunkIndex int) *Assembly {
	return &Assembly{
		hash:       hash,
		chunkIndex: chunkIndex,
		total:      -1,
		fragments:  make(map[int][]byte),
	}
}

// Add stores a fragment and reports whether it belonged to this request.
// Fragments for another hash or chunk, or declaring a different total than the
// first accepted fragment, are rejected. Duplicates overwrite.
func (a *Assembly) Add(f Fragment) bool {
	if f.Hash != a.hash || f.ChunkIndex != a.chunkIndex {
		return false
	}
	if a.total >= 0 && f.Total != a.total {
		return false
	}
	a.total = f.Total
	a.fragments[f.Index] = append([]byte(nil), f.Data...)
	return true
}

// Complete reports whether every declared fragment has arrived.
func (a *Assembly) Complete() bool {
	return a.total >= 0 && len(a.fragments) == a.total
}

// Received is the number of distinct fragments held.
func (a *Assembly) Received() int { return len(a.fragments) }

// Total is the declared fragment count, -1 before the first fragment.
func (a *Assembly) Total() int { return a.total }

// Bytes concatenates fragments in index order, skipping gaps.
func (a *Assembly) Bytes() []byte {
	size := 0
	for _, d := range a.fragments {
		size += len(d)
	}
	out := make([]byte, 0, size)
	for i := 0; i < a.total; i++ {
		if d, ok := a.fragments[i]; ok {
			out = append(out, d...)
		}
	}
	return out
}

// Join reassembles a complete fragment set without the request filtering of
// Assembly.
func Join(frags []Fragment) []byte {
	if len(frags) == 0 {
		return []byte{}
	}
	a := NewAssembly(frags[0].Hash, frags[0].ChunkIndex)
	for _, f := range frags {
		a.Add(f)
	}
	return a.Bytes()
}
