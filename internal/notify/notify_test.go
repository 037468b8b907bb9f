package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type recordingSink struct {
	calls []string
	err   error
}

func (r *recordingSink) Advise(_ context.Context, n Notice) error {
	r.calls = append(r.calls, "advise:"+n.Text)
	return r.err
}

func (r *recordingSink) Notify(_ context.Context, n Notice) error {
	r.calls = append(r.calls, "notify:"+n.Text)
	return r.err
}

func TestMultiReachesEverySinkDespiteErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := &recordingSink{err: boom}
	ok := &recordingSink{}

	m := Multi{failing, ok}
	err := m.Advise(context.Background(), Notice{Text: "a"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if err := (Multi{ok}).Notify(context.Background(), Notice{Text: "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ok.calls) != 2 || ok.calls[0] != "advise:a" || ok.calls[1] != "notify:b" {
		t.Fatalf("unexpected calls: %v", ok.calls)
	}
}

func TestHubDeliversToSessionSubscribers(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s1")
	defer cancel()
	other, cancelOther := hub.Subscribe("s2")
	defer cancelOther()

	_ = hub.Advise(context.Background(), Notice{SessionID: "s1", Kind: KindAdvisory, Text: "hi"})

	select {
	case n := <-ch:
		if n.Kind != KindAdvisory || n.Text != "hi" {
			t.Fatalf("unexpected notice %+v", n)
		}
	default:
		t.Fatal("expected notice for s1")
	}

	select {
	case n := <-other:
		t.Fatalf("s2 should not receive s1 notices, got %+v", n)
	default:
	}
}

func TestHubNeverBlocksOnFullSubscriber(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("s1")
	defer cancel()

	for i := 0; i < subscriberBuffer*3; i++ {
		_ = hub.Notify(context.Background(), Notice{SessionID: "s1"})
	}
}

func TestHubCancelClosesAndUnregisters(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("s1")
	if hub.Subscribers("s1") != 1 {
		t.Fatal("expected one subscriber")
	}

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if hub.Subscribers("s1") != 0 {
		t.Fatal("expected subscriber to be removed")
	}

	hub.Close()
	late, _ := hub.Subscribe("s1")
	if _, ok := <-late; ok {
		t.Fatal("subscribing to a closed hub must yield a closed channel")
	}
}

func TestWebhookPostsDispatchOnly(t *testing.T) {
	var got []Notice
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hook-token" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		var n Notice
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			t.Errorf("decode: %v", err)
		}
		got = append(got, n)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hook := NewWebhook(server.URL, "hook-token")
	ctx := context.Background()
	if err := hook.Advise(ctx, Notice{Kind: KindAdvisory}); err != nil {
		t.Fatalf("Advise err: %v", err)
	}
	if err := hook.Notify(ctx, Notice{SessionID: "s1", Kind: KindDispatch, Contact: "+1"}); err != nil {
		t.Fatalf("Notify err: %v", err)
	}

	if len(got) != 1 || got[0].Kind != KindDispatch || got[0].Contact != "+1" {
		t.Fatalf("unexpected webhook payloads: %+v", got)
	}
}

func TestWebhookReportsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	if err := NewWebhook(server.URL, "").Notify(context.Background(), Notice{}); err == nil {
		t.Fatal("expected error for 500")
	}
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSPublishesBothKinds(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATS(pub)
	ctx := context.Background()

	_ = sink.Advise(ctx, Notice{SessionID: "s1", Kind: KindAdvisory})
	_ = sink.Notify(ctx, Notice{SessionID: "s1", Kind: KindDispatch})

	if len(pub.subjects) != 2 || pub.subjects[0] != SubjectAdvisory || pub.subjects[1] != SubjectDispatch {
		t.Fatalf("unexpected subjects: %v", pub.subjects)
	}
	var n Notice
	if err := json.Unmarshal(pub.payloads[1], &n); err != nil || n.Kind != KindDispatch {
		t.Fatalf("unexpected payload %s (%v)", pub.payloads[1], err)
	}
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramSendsDispatchToContactChat(t *testing.T) {
	bot := &fakeBot{}
	sink := NewTelegram(bot, 42)
	ctx := context.Background()

	_ = sink.Advise(ctx, Notice{Text: "advice"})
	if err := sink.Notify(ctx, Notice{SessionID: "s1", Text: "Message sent to +1"}); err != nil {
		t.Fatalf("Notify err: %v", err)
	}

	if len(bot.sent) != 1 {
		t.Fatalf("expected one telegram message, got %d", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 || !strings.Contains(bot.sent[0].Text, "s1") {
		t.Fatalf("unexpected message %+v", bot.sent[0])
	}
}

type stuckBot struct {
	release chan struct{}
}

func (s *stuckBot) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-s.release
	return tgbotapi.Message{}, nil
}

func TestTelegramNotifyHonorsContext(t *testing.T) {
	bot := &stuckBot{release: make(chan struct{})}
	defer close(bot.release)
	sink := NewTelegram(bot, 42)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sink.Notify(ctx, Notice{SessionID: "s1", Text: "Message sent to +1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Notify blocked for %v", elapsed)
	}
}
