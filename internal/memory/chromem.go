package memory

import (
	"context"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "memories"

// ChromemIndex wraps chromem-go, a pure Go embedded vector database.
// All records live in one collection; scoping to a user or chat happens
// through metadata filters, mirroring how the recall query is allowed to
// span all indexed content by default.
type ChromemIndex struct {
	db  *chromem.DB
	col *chromem.Collection
}

// NewChromemIndex creates a persistent index rooted at path.
func NewChromemIndex(path string) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	return newIndex(db)
}

// NewEphemeralIndex creates an in-memory index, used by the chat CLI
// and tests.
func NewEphemeralIndex() (*ChromemIndex, error) {
	return newIndex(chromem.NewDB())
}

func newIndex(db *chromem.DB) (*ChromemIndex, error) {
	// No embedding func: callers always provide vectors.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemIndex{db: db, col: col}, nil
}

func (s *ChromemIndex) Upsert(ctx context.Context, rec Record) error {
	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Vector,
		Metadata: map[string]string{
			"chat_id": rec.ChatID,
			"user_id": rec.UserID,
		},
	}

	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (s *ChromemIndex) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Match, error) {
	// chromem rejects nResults larger than the number of (filtered)
	// documents, so clamp to the collection size and then retry with
	// smaller limits when a filter narrows the candidate set further.
	n := k
	if count := s.col.Count(); count < n {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	var results []chromem.Result
	for ; n >= 1; n-- {
		var err error
		results, err = s.col.QueryEmbedding(ctx, vector, n, filter, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if n == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, result := range results {
		matches = append(matches, Match{
			Record: Record{
				ID:     result.ID,
				Vector: result.Embedding,
				ChatID: result.Metadata["chat_id"],
				UserID: result.Metadata["user_id"],
				Text:   result.Content,
			},
			Similarity: result.Similarity,
		})
	}
	return matches, nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

func (s *ChromemIndex) Close() error {
	// chromem persists on write, nothing to flush.
	return nil
}
