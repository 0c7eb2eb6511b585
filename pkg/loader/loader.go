package loader

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// DefaultMaxChars is the maximum length of a paragraph chunk in characters.
const DefaultMaxChars = 300

// Document is a raw knowledge base file.
type Document struct {
	Path    string // Path relative to the corpus root
	Content string
}

// LoadDocuments reads all plain-text files under root and returns them
// sorted by path, so the corpus order is stable across rebuilds.
func LoadDocuments(fsys fs.FS, root string) ([]Document, error) {
	var docs []Document

	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Only the top level holds knowledge base files
		if d.IsDir() {
			if p != root {
				return fs.SkipDir
			}
			return nil
		}

		if !strings.HasSuffix(p, ".txt") {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}

		rel := path.Base(p)
		if root == "." {
			rel = p
		}

		docs = append(docs, Document{Path: rel, Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Path < docs[j].Path
	})

	return docs, nil
}

// ChunkDocument splits text into paragraphs on blank lines. Each paragraph is
// trimmed, empty ones are dropped and the rest are cut to maxChars characters.
func ChunkDocument(content string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var chunks []string
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		chunks = append(chunks, truncate(p, maxChars))
	}

	return chunks
}

// LoadAndChunkAll loads all documents under root and chunks them in path order.
func LoadAndChunkAll(fsys fs.FS, root string, maxChars int) ([]string, error) {
	docs, err := LoadDocuments(fsys, root)
	if err != nil {
		return nil, err
	}

	var all []string
	for _, doc := range docs {
		all = append(all, ChunkDocument(doc.Content, maxChars)...)
	}

	return all, nil
}

func truncate(s string, maxChars int) string {
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
