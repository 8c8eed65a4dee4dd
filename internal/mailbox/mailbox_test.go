package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nugget/conclave/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestMailbox() *Mailbox {
	return New([]string{"assistant", "planner", "tester"}, nil, nil)
}

func TestSendAndCheckMail_FIFO(t *testing.T) {
	t.Parallel()
	mb := newTestMailbox()
	ctx := context.Background()

	for i := range 3 {
		if _, err := mb.Send(ctx, "planner", "tester", "step", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	got := mb.CheckMail("tester")
	if len(got) != 3 {
		t.Fatalf("CheckMail returned %d messages, want 3", len(got))
	}
	for i, msg := range got {
		if want := fmt.Sprintf("msg %d", i); msg.Body != want {
			t.Errorf("message %d body = %q, want %q", i, msg.Body, want)
		}
		if !msg.Read {
			t.Errorf("message %d not marked read", i)
		}
		if msg.From != "planner" || msg.To != "tester" {
			t.Errorf("message %d routing = %s→%s", i, msg.From, msg.To)
		}
	}
}

func TestCheckMail_Idempotent(t *testing.T) {
	t.Parallel()
	mb := newTestMailbox()

	mb.Send(context.Background(), "assistant", "planner", "", "What is 7+7?")

	if got := mb.CheckMail("planner"); len(got) != 1 {
		t.Fatalf("first CheckMail = %d messages, want 1", len(got))
	}
	if got := mb.CheckMail("planner"); len(got) != 0 {
		t.Fatalf("second CheckMail = %d messages, want 0", len(got))
	}
	if n := mb.Unread("planner"); n != 0 {
		t.Errorf("Unread = %d after drain, want 0", n)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	t.Parallel()
	mb := newTestMailbox()
	mb.Send(context.Background(), "tester", "assistant", "", "flaky test in pkg/x")

	peeked := mb.Peek("assistant")
	if len(peeked) != 1 || peeked[0].Read {
		t.Fatalf("Peek = %+v, want one unread message", peeked)
	}
	peeked[0].Body = "mutated"

	got := mb.CheckMail("assistant")
	if len(got) != 1 || got[0].Body != "flaky test in pkg/x" {
		t.Errorf("CheckMail after Peek = %+v", got)
	}
}

func TestSend_UnknownRecipient(t *testing.T) {
	t.Parallel()
	mb := newTestMailbox()

	_, err := mb.Send(context.Background(), "planner", "ghost", "", "hello?")

	var mbErr *Error
	if !errors.As(err, &mbErr) {
		t.Fatalf("err = %v, want *mailbox.Error", err)
	}
	if mbErr.Kind != KindUnknownRecipient || mbErr.Agent != "ghost" {
		t.Errorf("err = %+v", mbErr)
	}
	for _, id := range mb.Agents() {
		if n := mb.Unread(id); n != 0 {
			t.Errorf("agent %s has %d unread after failed send", id, n)
		}
	}
	if got := mb.CheckMail("ghost"); got != nil {
		t.Errorf("CheckMail(ghost) = %v, want nil", got)
	}
}

func TestSend_CancelledContext(t *testing.T) {
	t.Parallel()
	mb := newTestMailbox()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mb.Send(ctx, "planner", "tester", "", "late"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := mb.Unread("tester"); n != 0 {
		t.Errorf("Unread = %d, want 0", n)
	}
}

func TestSend_PublishesEvent(t *testing.T) {
	t.Parallel()
	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	mb := New([]string{"planner"}, bus, nil)
	id, err := mb.Send(context.Background(), "assistant", "planner", "", "plan it")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Kind != events.KindMailSent || ev.Data["id"] != id {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no mail_sent event")
	}
}

func TestConcurrentSenders(t *testing.T) {
	t.Parallel()
	mb := newTestMailbox()
	ctx := context.Background()

	const perSender = 50
	senders := []string{"assistant", "planner", "tester"}

	var wg sync.WaitGroup
	for _, from := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perSender {
				to := senders[(i+1)%len(senders)]
				mb.Send(ctx, from, to, "", "x")
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, id := range senders {
		total += len(mb.CheckMail(id))
	}
	if want := perSender * len(senders); total != want {
		t.Errorf("delivered %d messages, want %d", total, want)
	}
}
