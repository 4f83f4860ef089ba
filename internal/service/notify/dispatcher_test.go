package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/ceer-lab/ceer/internal/domain"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu   sync.Mutex
	got  []domain.Notification
	fail int32
	hits int32
	err  error
}

func (r *recordingSink) Notify(_ context.Context, n domain.Notification) error {
	hit := atomic.AddInt32(&r.hits, 1)
	if r.err != nil {
		return r.err
	}
	if hit <= atomic.LoadInt32(&r.fail) {
		return errors.New("transient failure")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return nil
}

func (r *recordingSink) delivered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func notification(kind domain.NotificationKind, recipient string) domain.Notification {
	return domain.Notification{
		ID:        "n-" + recipient,
		Kind:      kind,
		Recipient: domain.Identity{ID: recipient, Email: recipient + "@ceer.test"},
		BOMID:     "bom-1",
	}
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	defer goleak.VerifyNone(t)

	mail, stream := &recordingSink{}, &recordingSink{}
	d := NewDispatcher([]Sink{{Name: "mail", Notifier: mail}, {Name: "stream", Notifier: stream}}, Options{Workers: 2}, prometheus.NewRegistry(), newLogger())
	for _, r := range []string{"a", "b", "c"} {
		d.Enqueue(notification(domain.NotifyBOMAwaitingReview, r))
	}
	d.Close()

	if mail.delivered() != 3 || stream.delivered() != 3 {
		t.Fatalf("expected 3 deliveries per sink, got mail=%d stream=%d", mail.delivered(), stream.delivered())
	}
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{fail: 2}
	reg := prometheus.NewRegistry()
	d := NewDispatcher([]Sink{{Name: "mail", Notifier: sink}}, Options{Workers: 1, MaxRetries: 3, RetryBase: time.Millisecond}, reg, newLogger())
	d.Enqueue(notification(domain.NotifyBOMCreated, "guide"))
	d.Close()

	if got := atomic.LoadInt32(&sink.hits); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if sink.delivered() != 1 {
		t.Fatalf("expected delivery after retries, got %d", sink.delivered())
	}
	delivered := testutil.ToFloat64(d.metrics.deliveries.WithLabelValues("mail", string(domain.NotifyBOMCreated), "delivered"))
	if delivered != 1 {
		t.Fatalf("expected delivered counter 1, got %v", delivered)
	}
}

func TestDispatcherSurvivesFailingSink(t *testing.T) {
	defer goleak.VerifyNone(t)

	broken := &recordingSink{err: errors.New("smtp down")}
	healthy := &recordingSink{}
	d := NewDispatcher([]Sink{{Name: "mail", Notifier: broken}, {Name: "log", Notifier: healthy}}, Options{Workers: 1, MaxRetries: 1, RetryBase: time.Millisecond}, prometheus.NewRegistry(), newLogger())
	d.Enqueue(notification(domain.NotifyBOMGuideRejected, "student"))
	d.Close()

	if got := atomic.LoadInt32(&broken.hits); got != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d", got)
	}
	if healthy.delivered() != 1 {
		t.Fatalf("expected healthy sink to receive the notification, got %d", healthy.delivered())
	}
	failed := testutil.ToFloat64(d.metrics.deliveries.WithLabelValues("mail", string(domain.NotifyBOMGuideRejected), "failed"))
	if failed != 1 {
		t.Fatalf("expected failed counter 1, got %v", failed)
	}
}

func TestDispatcherDoesNotRetryUndeliverable(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{err: ErrUndeliverable}
	d := NewDispatcher([]Sink{{Name: "mail", Notifier: sink}}, Options{Workers: 1, MaxRetries: 5, RetryBase: time.Millisecond}, nil, newLogger())
	d.Enqueue(notification(domain.NotifyBOMCreated, "guide"))
	d.Close()

	if got := atomic.LoadInt32(&sink.hits); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var delivered int32
	blocking := NotifierFunc(func(context.Context, domain.Notification) error {
		once.Do(func() { close(started) })
		<-release
		atomic.AddInt32(&delivered, 1)
		return nil
	})
	d := NewDispatcher([]Sink{{Name: "slow", Notifier: blocking}}, Options{Workers: 1, QueueSize: 1}, prometheus.NewRegistry(), newLogger())

	d.Enqueue(notification(domain.NotifyBOMCreated, "first"))
	<-started
	d.Enqueue(notification(domain.NotifyBOMCreated, "second"))
	d.Enqueue(notification(domain.NotifyBOMCreated, "third"))

	dropped := testutil.ToFloat64(d.metrics.drops.WithLabelValues(string(domain.NotifyBOMCreated)))
	if dropped != 1 {
		t.Fatalf("expected one dropped notification, got %v", dropped)
	}
	close(release)
	d.Close()
	if got := atomic.LoadInt32(&delivered); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
}

func TestEnqueueAfterCloseIsDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	sink := &recordingSink{}
	d := NewDispatcher([]Sink{{Name: "log", Notifier: sink}}, Options{}, nil, newLogger())
	d.Close()
	d.Close()
	d.Enqueue(notification(domain.NotifyBOMCreated, "late"))
	if sink.delivered() != 0 {
		t.Fatalf("expected nothing delivered after close, got %d", sink.delivered())
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: ErrUndeliverable}
	err := Multi{bad, ok}.Notify(context.Background(), notification(domain.NotifyBOMCreated, "x"))
	if !errors.Is(err, ErrUndeliverable) {
		t.Fatalf("expected joined ErrUndeliverable, got %v", err)
	}
	if ok.delivered() != 1 {
		t.Fatal("expected remaining notifier to run")
	}
}
