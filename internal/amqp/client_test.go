package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

func TestExponentialBackoffDoublesUntilCap(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for attempt, d := range want {
		if got := exponentialBackoff(attempt); got != d {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, d)
		}
	}
	for _, attempt := range []int{5, 6, 40} {
		if got := exponentialBackoff(attempt); got != maxBackoff {
			t.Errorf("attempt %d: got %v, want the %v cap", attempt, got, maxBackoff)
		}
	}
}

func TestIsConnectionError(t *testing.T) {
	retryable := []error{
		errors.New("dial tcp 127.0.0.1:5672: connect: connection refused"),
		errors.New("Exception (504) Reason: \"channel/connection is not open\""),
		errors.New("read: connection reset by peer"),
		fmt.Errorf("consume: %w", amqp091.ErrClosed),
		errors.New("message channel closed"),
	}
	for _, err := range retryable {
		if !isConnectionError(err) {
			t.Errorf("expected %q to be retryable", err)
		}
	}

	permanent := []error{
		nil,
		errors.New("Exception (403) Reason: \"ACCESS_REFUSED\""),
		errors.New("invalid event payload"),
	}
	for _, err := range permanent {
		if isConnectionError(err) {
			t.Errorf("expected %v to be permanent", err)
		}
	}
}

func TestCircuitBreakerLifecycle(t *testing.T) {
	c := &Client{exchangeName: "finsight", queueName: "transaction_events"}

	for i := 0; i < maxFailures-1; i++ {
		c.recordFailure()
	}
	if c.isCircuitOpen() {
		t.Fatalf("circuit opened after %d failures, threshold is %d", maxFailures-1, maxFailures)
	}

	c.recordFailure()
	if !c.isCircuitOpen() {
		t.Fatal("circuit should open at the failure threshold")
	}

	// Age the last failure past the open timeout: the next check is a trial call.
	c.mu.Lock()
	c.lastFailure = time.Now().Add(-openTimeout - time.Second)
	c.mu.Unlock()
	if c.isCircuitOpen() {
		t.Fatal("circuit should let a trial call through after the open timeout")
	}
	if got := atomic.LoadInt32(&c.state); got != StateHalfOpen {
		t.Fatalf("state = %d, want half-open", got)
	}

	// A failed trial call reopens immediately, without waiting for the threshold.
	c.recordFailure()
	if !c.isCircuitOpen() {
		t.Fatal("failed trial call should reopen the circuit")
	}

	c.recordSuccess()
	if c.isCircuitOpen() || atomic.LoadInt64(&c.failureCount) != 0 {
		t.Fatal("success should close the circuit and clear the failure count")
	}
}

func TestPublishFailsFast(t *testing.T) {
	ev := NewTransactionEvent(EventCreated, "alice", "tx-1")

	open := &Client{state: StateOpen, lastFailure: time.Now()}
	err := open.PublishTransactionEvent(context.Background(), ev)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open circuit: got %v, want ErrCircuitOpen", err)
	}
	if !strings.Contains(err.Error(), string(EventCreated)) {
		t.Errorf("error should name the event type: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (&Client{}).PublishTransactionEvent(ctx, ev); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled context: got %v", err)
	}
}

func TestNewTransactionEvent(t *testing.T) {
	ev := NewTransactionEvent(EventUpdated, "user-1", "tx-9")

	if ev.MessageID == "" {
		t.Error("NewTransactionEvent() should assign a message id")
	}
	if ev.Type != EventUpdated || ev.UserID != "user-1" || ev.TransactionID != "tx-9" {
		t.Errorf("NewTransactionEvent() = %+v", ev)
	}
	if time.Since(ev.Timestamp) > time.Second {
		t.Error("NewTransactionEvent() Timestamp should be recent")
	}
}

func TestTransactionEvent_JSON(t *testing.T) {
	ev := TransactionEvent{
		MessageID:     "m-1",
		Type:          EventDeleted,
		UserID:        "user-1",
		TransactionID: "tx-1",
		Timestamp:     time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}

	body, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	if !strings.Contains(string(body), `"type":"transaction.deleted"`) {
		t.Errorf("unexpected body %s", body)
	}

	parsed, err := TransactionEventFromJSON(body)
	if err != nil {
		t.Fatalf("TransactionEventFromJSON() error = %v", err)
	}
	if parsed.MessageID != ev.MessageID || parsed.Type != ev.Type || parsed.UserID != ev.UserID ||
		parsed.TransactionID != ev.TransactionID || !parsed.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("parsed = %+v, want %+v", parsed, ev)
	}
}

func TestTransactionEvent_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     `{"type": 3`,
		"unknown type": `{"type":"transaction.moved","user_id":"u"}`,
		"no user":      `{"type":"transaction.created"}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := TransactionEventFromJSON([]byte(body)); err == nil {
				t.Error("TransactionEventFromJSON() should fail")
			}
		})
	}
}
