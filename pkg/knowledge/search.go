package knowledge

// Search performs similarity search on the index and resolves ids to
// documents. The query must already be normalized.
// Returns at most k matches sorted by score (highest first). Ids that have
// no document are skipped.
func Search(index *FlatIndex, corpus Corpus, query []float32, k int) []Match {
	if k < 1 {
		return nil
	}

	scores, ids := index.Search(query, k)

	matches := make([]Match, 0, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(corpus) {
			continue
		}
		matches = append(matches, Match{
			ID:       id,
			Score:    scores[i],
			Document: corpus[id],
		})
	}

	return matches
}
