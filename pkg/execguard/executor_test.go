package execguard

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-dev/askdb/pkg/logger"
)

// fakeRows serves a fixed number of generated rows.
type fakeRows struct {
	total  int
	served int
	err    error
}

func (r *fakeRows) Next() bool {
	if r.served >= r.total {
		return false
	}
	r.served++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return []any{r.served, fmt.Sprintf("row-%d", r.served)}, nil }
func (r *fakeRows) Columns() []string      { return []string{"id", "label"} }
func (r *fakeRows) Err() error             { return r.err }
func (r *fakeRows) Close()                 {}

// fakeSource replays canned outcomes per call and counts datastore contacts.
type fakeSource struct {
	errs  []error
	rows  int
	calls int
}

func (s *fakeSource) Query(_ context.Context, _ string) (Rows, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeRows{total: s.rows}, nil
}

func transientErr() error {
	return &pgconn.PgError{Code: "40001", Message: "serialization failure"}
}

func newTestExecutor(t *testing.T, source RowSource, cfg Config) (*Executor, *Breaker) {
	t.Helper()
	breaker, err := NewBreaker(&BreakerConfig{Logger: logger.NewTest()})
	require.NoError(t, err)

	cfg.Logger = logger.NewTest()
	cfg.Source = source
	cfg.Breaker = breaker
	e, err := New(&cfg)
	require.NoError(t, err)
	return e, breaker
}

func TestExecute_SmallResultIsComplete(t *testing.T) {
	source := &fakeSource{rows: 7}
	e, _ := newTestExecutor(t, source, Config{})

	result, err := e.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Complete)
	assert.Equal(t, 7, result.RowCount)
	assert.Len(t, result.Rows, 7)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, []string{"id", "label"}, result.Columns)
	assert.Equal(t, 1, source.calls)
}

func TestExecute_TruncatesAtHardCapWithWarning(t *testing.T) {
	source := &fakeSource{rows: 250}
	e, _ := newTestExecutor(t, source, Config{BatchSize: 50, HardCap: 100})

	result, err := e.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.False(t, result.Complete)
	assert.Equal(t, 250, result.RowCount)
	assert.Len(t, result.Rows, 100)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "first 100 of 250")
}

func TestExecute_AbortsPastLargeResultCeiling(t *testing.T) {
	source := &fakeSource{rows: 10_000}
	e, _ := newTestExecutor(t, source, Config{BatchSize: 50, HardCap: 100, LargeResultCeiling: 500})

	result, err := e.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.False(t, result.Complete)
	assert.Len(t, result.Rows, 50, "aborted fetch keeps the initial batch as a sample")
	assert.Equal(t, 500, result.RowCount)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "export")
	assert.Contains(t, result.Warnings[0], "50-row sample")
}

func TestExecute_AbortSampleSizeFollowsBatchSize(t *testing.T) {
	for _, batch := range []int{10, 80} {
		source := &fakeSource{rows: 2_000}
		e, _ := newTestExecutor(t, source, Config{BatchSize: batch, HardCap: 100, LargeResultCeiling: 500})

		result, err := e.Execute(context.Background(), "SELECT 1")
		require.NoError(t, err)
		assert.Len(t, result.Rows, batch)
	}
}

func TestExecute_RetriesTransientErrors(t *testing.T) {
	source := &fakeSource{errs: []error{transientErr(), transientErr(), nil}, rows: 1}
	e, _ := newTestExecutor(t, source, Config{MaxTries: 3})

	result, err := e.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.RowCount)
	assert.Equal(t, 3, source.calls)
}

func TestExecute_RetryNeverExceedsMaxTries(t *testing.T) {
	source := &fakeSource{errs: []error{transientErr(), transientErr(), transientErr(), transientErr()}}
	e, _ := newTestExecutor(t, source, Config{MaxTries: 3})

	_, err := e.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, 3, source.calls)
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	source := &fakeSource{errs: []error{&pgconn.PgError{Code: "42601", Message: "syntax error"}}}
	e, _ := newTestExecutor(t, source, Config{MaxTries: 3})

	_, err := e.Execute(context.Background(), "SELEC 1")
	require.Error(t, err)
	assert.Equal(t, 1, source.calls)
}

func TestExecute_CircuitOpensAndFailsFast(t *testing.T) {
	var errs []error
	for i := 0; i < 5; i++ {
		errs = append(errs, transientErr())
	}
	source := &fakeSource{errs: errs}
	e, breaker := newTestExecutor(t, source, Config{MaxTries: 1})

	// Five consecutive failures open the circuit.
	for i := 0; i < 5; i++ {
		_, err := e.Execute(context.Background(), "SELECT 1")
		require.Error(t, err)
	}
	require.Equal(t, StateOpen, breaker.State())
	require.Equal(t, 5, source.calls)

	// The sixth call fails immediately without contacting the datastore.
	_, err := e.Execute(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 5, source.calls)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassTransient, Classify(transientErr()))
	assert.Equal(t, ClassTransient, Classify(&pgconn.PgError{Code: "40P01"}))
	assert.Equal(t, ClassTimeout, Classify(&pgconn.PgError{Code: "57014"}))
	assert.Equal(t, ClassTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, ClassPermanent, Classify(&pgconn.PgError{Code: "42P01"}))
	assert.Equal(t, ClassPermanent, Classify(errors.New("something else")))
}
