package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reportpush/internal/channel"
	"reportpush/internal/message"
	logx "reportpush/pkg/logx"
)

// fakeAdapter replays a scripted sequence of outcomes.
type fakeAdapter struct {
	name string

	mu      sync.Mutex
	script  []channel.Outcome
	calls   int
	callsAt []time.Time
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Send(ctx context.Context, msg *message.Message) channel.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsAt = append(f.callsAt, time.Now())
	out := channel.OutcomeSuccess
	if f.calls < len(f.script) {
		out = f.script[f.calls]
	}
	f.calls++
	att := channel.Attempt{Channel: f.name, Outcome: out, At: time.Now()}
	if out != channel.OutcomeSuccess {
		att.Err = "scripted failure"
	}
	return att
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDispatcher(t *testing.T, fakes map[string]*fakeAdapter, cfg Config) *Dispatcher {
	t.Helper()
	d := New(cfg, logx.Nop(), nil)
	d.newAdapter = func(c channel.Config) (channel.Adapter, error) {
		f, ok := fakes[c.Name]
		if !ok {
			return nil, errors.New("no fake for " + c.Name)
		}
		return f, nil
	}
	return d
}

func enabledChannel(name string) channel.Config {
	return channel.Config{Name: name, Type: channel.TypePlainWebhook, Endpoint: "https://example.com", Enabled: true}
}

func testMsg() *message.Message {
	return &message.Message{Title: "t", IdempotencyKey: "k", Sections: []message.Section{{Text: "body"}}}
}

func TestDispatchMixedOutcomes(t *testing.T) {
	t.Parallel()
	fakes := map[string]*fakeAdapter{
		"a": {name: "a"}, // succeeds immediately
		"b": {name: "b", script: []channel.Outcome{channel.OutcomeFatal}},
		"c": {name: "c", script: []channel.Outcome{channel.OutcomeRetryable, channel.OutcomeRetryable, channel.OutcomeSuccess}},
	}
	d := testDispatcher(t, fakes, Config{RetryBase: 5 * time.Millisecond, RetryMaxDelay: 20 * time.Millisecond, RatePerSec: 1000})

	res := d.Dispatch(context.Background(), testMsg(), []channel.Config{
		enabledChannel("a"), enabledChannel("b"), enabledChannel("c"),
	})

	if res.Overall != OverallPartialFailure {
		t.Fatalf("Overall = %v, want partial", res.Overall)
	}
	if !res.PerChannel["a"].Succeeded() {
		t.Fatal("channel a should have succeeded")
	}
	if b := res.PerChannel["b"]; b.Final != channel.OutcomeFatal || len(b.Attempts) != 1 {
		t.Fatalf("channel b: final=%v attempts=%d, want fatal after exactly 1 attempt", b.Final, len(b.Attempts))
	}
	if c := res.PerChannel["c"]; !c.Succeeded() || len(c.Attempts) != 3 {
		t.Fatalf("channel c: final=%v attempts=%d, want success after 3 attempts", c.Final, len(c.Attempts))
	}
}

func TestDispatchAllFailed(t *testing.T) {
	t.Parallel()
	fakes := map[string]*fakeAdapter{
		"a": {name: "a", script: []channel.Outcome{channel.OutcomeRetryable, channel.OutcomeRetryable, channel.OutcomeRetryable}},
		"b": {name: "b", script: []channel.Outcome{channel.OutcomeFatal}},
	}
	d := testDispatcher(t, fakes, Config{RetryBase: time.Millisecond, RatePerSec: 1000})

	res := d.Dispatch(context.Background(), testMsg(), []channel.Config{enabledChannel("a"), enabledChannel("b")})
	if res.Overall != OverallAllFailed {
		t.Fatalf("Overall = %v, want all_failed", res.Overall)
	}
	if got := fakes["a"].callCount(); got != 3 {
		t.Fatalf("channel a attempts = %d, want 3 (retry budget exhausted)", got)
	}
}

func TestDispatchNoChannels(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, nil, Config{})

	res := d.Dispatch(context.Background(), testMsg(), []channel.Config{
		{Name: "off", Type: channel.TypePlainWebhook, Endpoint: "https://example.com", Enabled: false},
	})
	if res.Overall != OverallNoChannels {
		t.Fatalf("Overall = %v, want no_channels", res.Overall)
	}
	if len(res.PerChannel) != 0 {
		t.Fatalf("PerChannel should be empty, got %d entries", len(res.PerChannel))
	}
}

func TestDisabledChannelNeverDispatched(t *testing.T) {
	t.Parallel()
	fakes := map[string]*fakeAdapter{"on": {name: "on"}, "off": {name: "off"}}
	d := testDispatcher(t, fakes, Config{RatePerSec: 1000})

	off := enabledChannel("off")
	off.Enabled = false
	res := d.Dispatch(context.Background(), testMsg(), []channel.Config{enabledChannel("on"), off})

	if res.Overall != OverallAllSucceeded {
		t.Fatalf("Overall = %v", res.Overall)
	}
	if fakes["off"].callCount() != 0 {
		t.Fatal("disabled channel was dispatched to")
	}
	if _, ok := res.PerChannel["off"]; ok {
		t.Fatal("disabled channel must not appear in the result")
	}
}

func TestDispatchConfigErrorIsFatalForThatChannelOnly(t *testing.T) {
	t.Parallel()
	fakes := map[string]*fakeAdapter{"good": {name: "good"}}
	d := testDispatcher(t, fakes, Config{RatePerSec: 1000})

	res := d.Dispatch(context.Background(), testMsg(), []channel.Config{enabledChannel("good"), enabledChannel("broken")})
	if res.Overall != OverallPartialFailure {
		t.Fatalf("Overall = %v, want partial", res.Overall)
	}
	br := res.PerChannel["broken"]
	if br.Final != channel.OutcomeFatal || len(br.Attempts) != 1 {
		t.Fatalf("broken: final=%v attempts=%d", br.Final, len(br.Attempts))
	}
	if !res.PerChannel["good"].Succeeded() {
		t.Fatal("good channel should be unaffected")
	}
}

func TestBackoffTiming(t *testing.T) {
	t.Parallel()
	f := &fakeAdapter{name: "a", script: []channel.Outcome{channel.OutcomeRetryable, channel.OutcomeRetryable, channel.OutcomeSuccess}}
	base := 100 * time.Millisecond
	d := testDispatcher(t, map[string]*fakeAdapter{"a": f}, Config{RetryBase: base, RetryMaxDelay: time.Second, RatePerSec: 1000})

	res := d.Dispatch(context.Background(), testMsg(), []channel.Config{enabledChannel("a")})
	if !res.PerChannel["a"].Succeeded() {
		t.Fatal("expected eventual success")
	}
	if len(f.callsAt) != 3 {
		t.Fatalf("attempts = %d", len(f.callsAt))
	}

	gap1 := f.callsAt[1].Sub(f.callsAt[0])
	gap2 := f.callsAt[2].Sub(f.callsAt[1])
	within := func(got, want time.Duration) bool {
		// ±20% plus small scheduler slack.
		lo := time.Duration(float64(want) * 0.8)
		hi := time.Duration(float64(want)*1.2) + 50*time.Millisecond
		return got >= lo && got <= hi
	}
	if !within(gap1, base) {
		t.Fatalf("first backoff = %v, want ~%v", gap1, base)
	}
	if !within(gap2, 2*base) {
		t.Fatalf("second backoff = %v, want ~%v", gap2, 2*base)
	}
}

func TestBackoffDelayCap(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 2 * time.Second, RetryMaxDelay: 30 * time.Second}.withDefaults()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := backoffDelay(cfg, i+1); got != w {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDispatchHonorsCancellation(t *testing.T) {
	t.Parallel()
	f := &fakeAdapter{name: "a", script: []channel.Outcome{channel.OutcomeRetryable, channel.OutcomeRetryable, channel.OutcomeRetryable}}
	d := testDispatcher(t, map[string]*fakeAdapter{"a": f}, Config{RetryBase: 10 * time.Second, RatePerSec: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := d.Dispatch(ctx, testMsg(), []channel.Config{enabledChannel("a")})
	if took := time.Since(start); took > 2*time.Second {
		t.Fatalf("cancellation not honored, took %v", took)
	}
	if res.Overall != OverallAllFailed {
		t.Fatalf("Overall = %v, want all_failed", res.Overall)
	}
}
