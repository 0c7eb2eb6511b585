package knowledge

import (
	"math"
	"path/filepath"
	"testing"
)

func testIndex(t *testing.T) *FlatIndex {
	t.Helper()
	x := NewFlatIndex(2)
	vecs := [][]float32{
		{1, 0},
		{0, 1},
		{0.6, 0.8},
	}
	if err := x.Add(vecs, []uint64{10, 11, 12}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return x
}

func TestFlatIndex_Search(t *testing.T) {
	x := testIndex(t)

	scores, ids := x.Search([]float32{1, 0}, 2)

	if len(ids) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(ids))
	}
	if ids[0] != 0 || ids[1] != 2 {
		t.Errorf("ids = %v, want [0 2]", ids)
	}
	if scores[0] != 1 || math.Abs(float64(scores[1])-0.6) > 1e-6 {
		t.Errorf("scores = %v, want [1 0.6]", scores)
	}
}

func TestFlatIndex_SearchPadsWithNoMatch(t *testing.T) {
	x := testIndex(t)

	scores, ids := x.Search([]float32{0, 1}, 5)

	if len(ids) != 5 {
		t.Fatalf("Expected 5 slots, got %d", len(ids))
	}
	for i := 3; i < 5; i++ {
		if ids[i] != NoMatch {
			t.Errorf("ids[%d] = %d, want NoMatch", i, ids[i])
		}
		if scores[i] != -math.MaxFloat32 {
			t.Errorf("scores[%d] = %v, want -MaxFloat32", i, scores[i])
		}
	}
}

func TestFlatIndex_SearchDimensionMismatch(t *testing.T) {
	x := testIndex(t)

	_, ids := x.Search([]float32{1, 0, 0}, 1)
	if ids[0] != NoMatch {
		t.Errorf("Expected NoMatch for wrong dimension, got %d", ids[0])
	}
}

func TestFlatIndex_AddValidates(t *testing.T) {
	x := NewFlatIndex(3)

	if err := x.Add([][]float32{{1, 2}}, []uint64{1}); err == nil {
		t.Error("Expected dimension error")
	}
	if err := x.Add([][]float32{{1, 2, 3}}, nil); err == nil {
		t.Error("Expected label count error")
	}
	if x.Size() != 0 {
		t.Errorf("Expected empty index after failed adds, got %d", x.Size())
	}
}

func TestFlatIndex_RoundTrip(t *testing.T) {
	x := testIndex(t)
	path := filepath.Join(t.TempDir(), "kb.index")

	if err := WriteIndex(x, path); err != nil {
		t.Fatalf("WriteIndex failed: %v", err)
	}
	restored, err := ReadIndex(path)
	if err != nil {
		t.Fatalf("ReadIndex failed: %v", err)
	}

	if restored.Size() != x.Size() || restored.Dimension() != x.Dimension() {
		t.Fatalf("restored %d/%d, want %d/%d", restored.Size(), restored.Dimension(), x.Size(), x.Dimension())
	}

	query := []float32{0.8, 0.6}
	wantScores, wantIDs := x.Search(query, 3)
	gotScores, gotIDs := restored.Search(query, 3)
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] || gotScores[i] != wantScores[i] {
			t.Errorf("slot %d: got (%d, %v), want (%d, %v)", i, gotIDs[i], gotScores[i], wantIDs[i], wantScores[i])
		}
	}
	for i := 0; i < x.Size(); i++ {
		if restored.Label(i) != x.Label(i) {
			t.Errorf("label %d: got %d, want %d", i, restored.Label(i), x.Label(i))
		}
	}
}

func TestReadIndex_Garbage(t *testing.T) {
	x := &FlatIndex{}
	if err := x.UnmarshalBinary([]byte("not an index")); err == nil {
		t.Error("Expected decoding error")
	}
}

func TestSearch_SkipsMissingDocuments(t *testing.T) {
	x := testIndex(t)

	// Corpus shorter than the index: id 2 has no document
	corpus := Corpus{"east", "north"}

	matches := Search(x, corpus, []float32{0.6, 0.8}, 3)

	if len(matches) != 2 {
		t.Fatalf("Expected 2 matches, got %d: %+v", len(matches), matches)
	}
	if matches[0].Document != "north" || matches[1].Document != "east" {
		t.Errorf("unexpected order: %+v", matches)
	}
	if Search(x, corpus, []float32{1, 0}, 0) != nil {
		t.Error("Expected no matches for k=0")
	}
}
