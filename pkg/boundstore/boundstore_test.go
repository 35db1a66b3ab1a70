package boundstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nnverify/marabou-go/pkg/tolerance"
)

func newTestStore(n int) *Store {
	return New(n, tolerance.New(tolerance.Default))
}

func TestTightenLBIdempotent(t *testing.T) {
	s := newTestStore(1)

	changed, err := s.TightenLB(0, 2.0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2.0, s.GetLB(0))

	changed, err = s.TightenLB(0, 2.0)
	require.NoError(t, err)
	assert.False(t, changed, "re-applying the same lower bound must be a no-op")

	changed, err = s.TightenLB(0, 1.0)
	require.NoError(t, err)
	assert.False(t, changed, "a weaker lower bound must not change state")
	assert.Equal(t, 2.0, s.GetLB(0))
}

func TestTightenUBIdempotent(t *testing.T) {
	s := newTestStore(1)

	changed, err := s.TightenUB(0, 5.0)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.TightenUB(0, 5.0)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.TightenUB(0, 7.0)
	require.NoError(t, err)
	assert.False(t, changed, "a weaker upper bound must not change state")
}

func TestTightenRejectsInfeasible(t *testing.T) {
	s := newTestStore(1)
	_, err := s.TightenUB(0, 1.0)
	require.NoError(t, err)

	_, err = s.TightenLB(0, 2.0)
	require.Error(t, err)
	var infeasible *ErrInfeasibleBounds
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, 0, infeasible.Var)
}

type recordingWatcher struct {
	lowerCalls []float64
	upperCalls []float64
}

func (r *recordingWatcher) NotifyLowerBound(s *Store, v int, x float64) error {
	r.lowerCalls = append(r.lowerCalls, x)
	return nil
}

func (r *recordingWatcher) NotifyUpperBound(s *Store, v int, x float64) error {
	r.upperCalls = append(r.upperCalls, x)
	return nil
}

func TestWatchNotifiesOnChange(t *testing.T) {
	s := newTestStore(1)
	w := &recordingWatcher{}
	s.Watch(0, w)

	_, err := s.TightenLB(0, 1.0)
	require.NoError(t, err)
	_, err = s.TightenLB(0, 1.0) // idempotent, must not notify again
	require.NoError(t, err)

	assert.Equal(t, []float64{1.0}, w.lowerCalls)
	assert.Empty(t, w.upperCalls)
}

func TestUndoRestoresJournal(t *testing.T) {
	s := newTestStore(1)
	mark := s.Mark()

	_, err := s.TightenLB(0, 3.0)
	require.NoError(t, err)
	_, err = s.TightenUB(0, 10.0)
	require.NoError(t, err)

	s.Undo(mark)
	assert.True(t, math.IsInf(s.GetLB(0), -1), "lb must be restored to -Inf")
	assert.True(t, math.IsInf(s.GetUB(0), 1), "ub must be restored to +Inf")
	assert.Equal(t, mark, s.Mark())
}

func TestUnwatchStopsNotifications(t *testing.T) {
	s := newTestStore(1)
	w := &recordingWatcher{}
	s.Watch(0, w)
	s.Unwatch(0, w)

	_, err := s.TightenLB(0, 1.0)
	require.NoError(t, err)
	assert.Empty(t, w.lowerCalls)
}
