package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"

	"ridesaga/internal/logging"
	"ridesaga/internal/service"
)

type fakeListener struct {
	ch chan *pq.Notification
}

func (f *fakeListener) NotificationChannel() <-chan *pq.Notification { return f.ch }
func (f *fakeListener) Close() error { return nil }

type fakeProcessor struct {
	mu      sync.Mutex
	batches [][]service.ChangeRecord
	fail    func(records []service.ChangeRecord) (*service.BatchResult, error)
}

func (f *fakeProcessor) ProcessBatch(ctx context.Context, records []service.ChangeRecord) (*service.BatchResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]service.ChangeRecord(nil), records...))
	f.mu.Unlock()
	if f.fail != nil {
		return f.fail(records)
	}
	return &service.BatchResult{BatchSize: len(records), Successful: len(records)}, nil
}

func (f *fakeProcessor) calls() [][]service.ChangeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]service.ChangeRecord(nil), f.batches...)
}

type fakeDeadLetter struct {
	mu      sync.Mutex
	records []service.ChangeRecord
	reason  string
}

func (f *fakeDeadLetter) Write(ctx context.Context, records []service.ChangeRecord, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	f.reason = reason
	return nil
}

func notify(id, status string) *pq.Notification {
	return &pq.Notification{
		Channel: "payment_changes",
		Extra:   `{"op":"UPDATE","id":"` + id + `","payment":{"id":"p-` + id + `","status":"` + status + `","amount":12.5}}`,
	}
}

func TestParseNotification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		payload   string
		wantErr   bool
		wantName  string
		wantImage map[string]string
	}{
		{
			name:     "insert with mixed column types",
			payload:  `{"op":"INSERT","id":"1:p1:processing","payment":{"id":"p1","amount":25.00,"status":"processing","failure_reason":null,"retried":false}}`,
			wantName: service.ChangeInsert,
			wantImage: map[string]string{
				"id":      "p1",
				"amount":  "25.00",
				"status":  "processing",
				"retried": "false",
			},
		},
		{
			name:      "update maps to modify",
			payload:   `{"op":"UPDATE","id":"2:p1:completed","payment":{"id":"p1","status":"completed"}}`,
			wantName:  service.ChangeModify,
			wantImage: map[string]string{"id": "p1", "status": "completed"},
		},
		{
			name:     "missing image",
			payload:  `{"op":"UPDATE","id":"3"}`,
			wantName: service.ChangeModify,
		},
		{name: "delete is unsupported", payload: `{"op":"DELETE","id":"4","payment":{}}`, wantErr: true},
		{name: "garbage", payload: `not json`, wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			record, err := ParseNotification(tc.payload)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if record.EventName != tc.wantName {
				t.Errorf("expected event name %s, got %s", tc.wantName, record.EventName)
			}
			if len(record.NewImage) != len(tc.wantImage) {
				t.Fatalf("expected %d columns, got %d: %v", len(tc.wantImage), len(record.NewImage), record.NewImage)
			}
			for k, want := range tc.wantImage {
				if got := record.NewImage[k]; got != want {
					t.Errorf("expected %s=%q, got %q", k, want, got)
				}
			}
		})
	}
}

func TestRun_FlushesFullBatch(t *testing.T) {
	t.Parallel()

	listener := &fakeListener{ch: make(chan *pq.Notification, 4)}
	processor := &fakeProcessor{}
	source := NewPaymentChangeSource(listener, processor, nil, Options{
		BatchSize:   2,
		BatchWindow: time.Hour,
		MaxAttempts: 1,
	}, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	listener.ch <- notify("a", "completed")
	listener.ch <- nil
	listener.ch <- notify("b", "completed")

	waitFor(t, func() bool { return len(processor.calls()) == 1 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}

	calls := processor.calls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %v", calls)
	}
}

func TestRun_FlushesOnWindowAndShutdown(t *testing.T) {
	t.Parallel()

	listener := &fakeListener{ch: make(chan *pq.Notification, 4)}
	processor := &fakeProcessor{}
	source := NewPaymentChangeSource(listener, processor, nil, Options{
		BatchSize:   10,
		BatchWindow: 20 * time.Millisecond,
	}, logging.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	listener.ch <- notify("a", "completed")
	waitFor(t, func() bool { return len(processor.calls()) == 1 })

	close(listener.ch)
	if err := <-done; !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected %v, got %v", ErrListenerClosed, err)
	}
	cancel()
}

func TestFlush_RetriesThenDeadLetters(t *testing.T) {
	t.Parallel()

	failing := errors.New("publish failed")
	processor := &fakeProcessor{fail: func([]service.ChangeRecord) (*service.BatchResult, error) {
		return nil, failing
	}}
	dead := &fakeDeadLetter{}
	source := NewPaymentChangeSource(&fakeListener{}, processor, dead, Options{
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	}, logging.Discard(), nil)

	records := []service.ChangeRecord{{EventID: "a"}, {EventID: "b"}}
	source.flush(context.Background(), records)

	if got := len(processor.calls()); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(dead.records) != 2 {
		t.Errorf("expected 2 dead-lettered records, got %d", len(dead.records))
	}
	if dead.reason != failing.Error() {
		t.Errorf("expected reason %q, got %q", failing.Error(), dead.reason)
	}
}

func TestFlush_RetriesOnlyFailedRecords(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{fail: func(records []service.ChangeRecord) (*service.BatchResult, error) {
		result := &service.BatchResult{BatchSize: len(records)}
		for _, r := range records {
			if r.EventID == "bad" {
				result.Failed++
				result.FailedEventIDs = append(result.FailedEventIDs, r.EventID)
				continue
			}
			result.Successful++
		}
		return result, nil
	}}
	dead := &fakeDeadLetter{}
	source := NewPaymentChangeSource(&fakeListener{}, processor, dead, Options{
		MaxAttempts:  2,
		RetryBackoff: time.Millisecond,
	}, logging.Discard(), nil)

	source.flush(context.Background(), []service.ChangeRecord{{EventID: "ok"}, {EventID: "bad"}})

	calls := processor.calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(calls))
	}
	if len(calls[1]) != 1 || calls[1][0].EventID != "bad" {
		t.Errorf("expected retry of only the failed record, got %v", calls[1])
	}
	if len(dead.records) != 1 || dead.records[0].EventID != "bad" {
		t.Errorf("expected bad record dead-lettered, got %v", dead.records)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
