package knowledge

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"sort"
)

// NoMatch is the id reported for result slots that hold no vector
const NoMatch = -1

// FlatIndex is an exact inner-product index over float32 vectors.
// Vectors are identified by insertion order. Each vector carries a label,
// a fingerprint of the document it was computed from.
type FlatIndex struct {
	dim     int
	vectors [][]float32
	labels  []uint64
}

// persistedIndex is the on-disk form of a FlatIndex
type persistedIndex struct {
	Dimension int
	Vectors   [][]float32
	Labels    []uint64
}

// NewFlatIndex creates an empty index for vectors of the given dimension
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

// Add appends vectors and their labels in order.
func (x *FlatIndex) Add(vectors [][]float32, labels []uint64) error {
	if len(vectors) != len(labels) {
		return fmt.Errorf("knowledge: vectors and labels length mismatch: %d != %d", len(vectors), len(labels))
	}
	for i, v := range vectors {
		if len(v) != x.dim {
			return fmt.Errorf("knowledge: vector %d has dimension %d, index has %d", i, len(v), x.dim)
		}
	}

	for i, v := range vectors {
		cpy := make([]float32, len(v))
		copy(cpy, v)
		x.vectors = append(x.vectors, cpy)
		x.labels = append(x.labels, labels[i])
	}
	return nil
}

// Size returns the number of vectors in the index
func (x *FlatIndex) Size() int {
	return len(x.vectors)
}

// Dimension returns the vector dimension
func (x *FlatIndex) Dimension() int {
	return x.dim
}

// Label returns the label stored with vector id
func (x *FlatIndex) Label(id int) uint64 {
	return x.labels[id]
}

// Search returns the k vectors with the highest inner product with query,
// best first. The result always has k slots; slots without a vector hold
// NoMatch and -math.MaxFloat32.
func (x *FlatIndex) Search(query []float32, k int) ([]float32, []int) {
	if k <= 0 {
		return nil, nil
	}

	scores := make([]float32, k)
	ids := make([]int, k)
	for i := range ids {
		scores[i] = -math.MaxFloat32
		ids[i] = NoMatch
	}

	if len(query) != x.dim {
		return scores, ids
	}

	type scored struct {
		id    int
		score float32
	}
	all := make([]scored, len(x.vectors))
	for i, v := range x.vectors {
		all[i] = scored{id: i, score: dot(query, v)}
	}

	// Ties keep insertion order
	sort.SliceStable(all, func(a, b int) bool {
		return all[a].score > all[b].score
	})

	for i := 0; i < k && i < len(all); i++ {
		scores[i] = all[i].score
		ids[i] = all[i].id
	}

	return scores, ids
}

// MarshalBinary serializes the index
func (x *FlatIndex) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(persistedIndex{
		Dimension: x.dim,
		Vectors:   x.vectors,
		Labels:    x.labels,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge: encoding index: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores an index produced by MarshalBinary
func (x *FlatIndex) UnmarshalBinary(data []byte) error {
	var p persistedIndex
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return fmt.Errorf("knowledge: decoding index: %w", err)
	}

	restored := NewFlatIndex(p.Dimension)
	if err := restored.Add(p.Vectors, p.Labels); err != nil {
		return err
	}

	*x = *restored
	return nil
}

// WriteIndex persists the index to path. The file is written next to its
// destination and renamed into place.
func WriteIndex(x *FlatIndex, path string) error {
	data, err := x.MarshalBinary()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

// ReadIndex loads an index written by WriteIndex
func ReadIndex(path string) (*FlatIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	x := &FlatIndex{}
	if err := x.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return x, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	// Atomic rename
	return os.Rename(tmp, path)
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
