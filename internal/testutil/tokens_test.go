package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqTokenGenerator_NumbersFromOne(t *testing.T) {
	g := NewSeqTokenGenerator("txn")
	assert.Equal(t, "txn-000001", g.Generate())
	assert.Equal(t, "txn-000002", g.Generate())
	assert.Equal(t, "txn-000003", g.Generate())
}

func TestSeqTokenGenerator_DefaultPrefix(t *testing.T) {
	g := NewSeqTokenGenerator("")
	assert.Equal(t, "token-000001", g.Generate())
}

func TestSeqTokenGenerator_Reset(t *testing.T) {
	g := NewSeqTokenGenerator("txn")
	g.Generate()
	g.Generate()
	g.Reset()
	assert.Equal(t, "txn-000001", g.Generate())
}

func TestSeqTokenGenerator_ConcurrentUnique(t *testing.T) {
	g := NewSeqTokenGenerator("txn")

	const workers = 50
	const perWorker = 20
	var wg sync.WaitGroup
	wg.Add(workers)

	tokens := make(chan string, workers*perWorker)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				tokens <- g.Generate()
			}
		}()
	}
	wg.Wait()
	close(tokens)

	seen := make(map[string]bool)
	for tok := range tokens {
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
	assert.Len(t, seen, workers*perWorker)
}
