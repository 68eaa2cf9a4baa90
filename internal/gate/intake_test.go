package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworld/canonry/internal/canon"
)

func TestIntakeQueue_FIFO(t *testing.T) {
	q := newIntakeQueue()

	for _, id := range []string{"a", "b", "c"} {
		ok := q.Enqueue(intakeItem{kind: intakeSubmit, proposal: &canon.Proposal{ID: id}})
		require.True(t, ok)
	}

	for _, want := range []string{"a", "b", "c"} {
		item, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, item.proposal.ID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "queue should be empty")
}

func TestIntakeQueue_EnqueueAfterClose(t *testing.T) {
	q := newIntakeQueue()
	q.Close()

	ok := q.Enqueue(intakeItem{kind: intakeCanonize, scope: "x"})
	assert.False(t, ok, "enqueue after close should fail")
}

func TestIntakeQueue_ConcurrentProducers(t *testing.T) {
	q := newIntakeQueue()

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				q.Enqueue(intakeItem{kind: intakeCanonize, scope: "x"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
}

func TestService_SubmitAndCanonize(t *testing.T) {
	g, s := newTestGate(t)
	svc := NewService(g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.NoError(t, svc.Submit(entityProposal("prop-1", "n-aldric", []string{"alive"}, canon.AuthorityGM, 1_000_000)))

	// Canonize queues behind the submit, so the proposal is persisted
	// before the run starts.
	result, err := svc.Canonize(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	node, err := s.GetNode(ctx, "n-aldric")
	require.NoError(t, err)
	require.NotNil(t, node)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop after cancel")
	}
}

func TestService_StopRejectsNewWork(t *testing.T) {
	g, _ := newTestGate(t)
	svc := NewService(g)
	svc.Stop()

	err := svc.Submit(entityProposal("prop-1", "n-aldric", nil, canon.AuthorityGM, 1_000_000))
	assert.Error(t, err)

	_, err = svc.Canonize(context.Background(), "ravenholm")
	assert.Error(t, err)
}

func TestClock_MonotonicAndResumable(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())

	resumed := NewClockAt(41)
	assert.Equal(t, int64(42), resumed.Next())
}

func TestGateError_Helpers(t *testing.T) {
	assert.True(t, IsValidationError(NewValidationError("p", nil)))
	assert.True(t, IsContradictionError(NewContradictionError("p", "w", ConflictSpatial, "x")))
	assert.True(t, IsWriteFailure(NewWriteFailure("p", nil)))
	assert.True(t, IsReconstructionAmbiguity(NewReconstructionAmbiguity("node-teleported")))
	assert.True(t, IsConcurrencyConflict(NewConcurrencyConflict("p", 3, nil)))

	// Mismatched helper returns false.
	assert.False(t, IsContradictionError(NewValidationError("p", nil)))
}
