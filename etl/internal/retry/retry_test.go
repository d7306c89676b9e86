package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func TestExponential(t *testing.T) {
	backoff := Exponential(time.Second)

	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 8*time.Second, backoff(3))
	assert.Equal(t, time.Second, backoff(-1))
	assert.Equal(t, time.Duration(0), Exponential(0)(5))
}

func TestPolicy_Do(t *testing.T) {
	transient := errors.New("connection reset")

	tests := []struct {
		name         string
		maxAttempts  int
		failures     int
		wantErr      bool
		wantCalls    int
		wantSleeps   []time.Duration
		wantFailures int
	}{
		{
			name:         "success on first attempt",
			maxAttempts:  3,
			failures:     0,
			wantCalls:    1,
			wantSleeps:   nil,
			wantFailures: 0,
		},
		{
			name:         "fails twice then succeeds",
			maxAttempts:  3,
			failures:     2,
			wantCalls:    3,
			wantSleeps:   []time.Duration{time.Second, 2 * time.Second},
			wantFailures: 2,
		},
		{
			name:         "always fails",
			maxAttempts:  3,
			failures:     100,
			wantErr:      true,
			wantCalls:    3,
			wantSleeps:   []time.Duration{time.Second, 2 * time.Second},
			wantFailures: 3,
		},
		{
			name:         "zero attempts behaves as one",
			maxAttempts:  0,
			failures:     100,
			wantErr:      true,
			wantCalls:    1,
			wantSleeps:   nil,
			wantFailures: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			failures := 0
			policy := New(tt.maxAttempts, time.Second)
			policy.Sleep = rec.sleep
			policy.OnFailure = func(int, error, time.Duration) { failures++ }

			calls := 0
			err := policy.Do(context.Background(), func(_ context.Context, attempt int) error {
				assert.Equal(t, calls, attempt)
				calls++
				if calls <= tt.failures {
					return transient
				}
				return nil
			})

			if tt.wantErr {
				require.Error(t, err)
				var exhausted *ExhaustedError
				require.ErrorAs(t, err, &exhausted)
				assert.ErrorIs(t, err, transient)
				assert.Equal(t, tt.wantCalls, exhausted.Attempts)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantSleeps, rec.sleeps)
			assert.Equal(t, tt.wantFailures, failures)
		})
	}
}

func TestPolicy_Do_TerminalStopsImmediately(t *testing.T) {
	rec := &recorder{}
	policy := New(5, time.Second)
	policy.Sleep = rec.sleep

	rejected := errors.New("404 not found")
	calls := 0
	err := policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		return Terminal(rejected)
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, rejected)
	assert.True(t, IsTerminal(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.sleeps)
}

func TestPolicy_Do_CustomClassifier(t *testing.T) {
	stop := errors.New("stop")
	policy := Policy{
		MaxAttempts: 4,
		Classify: func(err error) Action {
			if errors.Is(err, stop) {
				return ActionFatal
			}
			return ActionRetry
		},
		Sleep: (&recorder{}).sleep,
	}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context, int) error {
		calls++
		if calls == 2 {
			return stop
		}
		return errors.New("again")
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}

func TestPolicy_Do_OnFailureReportsWait(t *testing.T) {
	type failure struct {
		attempt int
		wait    time.Duration
	}
	var got []failure

	policy := New(3, 500*time.Millisecond)
	policy.Sleep = (&recorder{}).sleep
	policy.OnFailure = func(attempt int, _ error, wait time.Duration) {
		got = append(got, failure{attempt, wait})
	}

	_ = policy.Do(context.Background(), func(context.Context, int) error {
		return errors.New("timeout")
	})

	assert.Equal(t, []failure{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 0},
	}, got)
}

func TestPolicy_Do_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := New(3, time.Hour)

	calls := 0
	err := policy.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("flaky")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ActionRetry, Classify(errors.New("x")))
	assert.Equal(t, ActionFatal, Classify(Terminal(errors.New("x"))))
	assert.Equal(t, ActionFatal, Classify(context.Canceled))
	assert.Equal(t, ActionFatal, Classify(context.DeadlineExceeded))
	assert.Nil(t, Terminal(nil))
	assert.Equal(t, "retry", ActionRetry.String())
	assert.Equal(t, "fatal", ActionFatal.String())
}
