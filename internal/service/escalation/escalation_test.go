package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/haven/backend/internal/notify"
)

type recordingSink struct {
	notices   []notify.Notice
	adviseErr error
}

func (r *recordingSink) Advise(_ context.Context, n notify.Notice) error {
	r.notices = append(r.notices, n)
	return r.adviseErr
}

func (r *recordingSink) Notify(_ context.Context, n notify.Notice) error {
	r.notices = append(r.notices, n)
	return nil
}

func TestShouldEscalateIsStrict(t *testing.T) {
	e := New(Config{Threshold: DefaultThreshold}, &recordingSink{}, zerolog.Nop())

	if e.ShouldEscalate(-2) {
		t.Fatal("score of exactly -2 must not escalate")
	}
	if !e.ShouldEscalate(-2.01) {
		t.Fatal("score of -2.01 must escalate")
	}
	if e.ShouldEscalate(0) {
		t.Fatal("neutral score must not escalate")
	}
}

func TestEscalateSendsAdvisoryThenDispatch(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Threshold: DefaultThreshold, EmergencyContact: "+15550100"}, sink, zerolog.Nop())

	if !e.Escalate(context.Background(), "s1") {
		t.Fatal("expected notices to fire")
	}

	if len(sink.notices) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(sink.notices))
	}
	if sink.notices[0].Kind != notify.KindAdvisory || sink.notices[0].Text != AdvisoryText {
		t.Fatalf("unexpected advisory %+v", sink.notices[0])
	}
	dispatch := sink.notices[1]
	if dispatch.Kind != notify.KindDispatch || dispatch.Text != "Message sent to +15550100" || dispatch.Contact != "+15550100" {
		t.Fatalf("unexpected dispatch %+v", dispatch)
	}
	if dispatch.SessionID != "s1" {
		t.Fatalf("expected session id on notice, got %q", dispatch.SessionID)
	}
}

func TestDispatchFiresEvenWhenAdvisoryFails(t *testing.T) {
	sink := &recordingSink{adviseErr: errors.New("ui gone")}
	e := New(Config{Threshold: DefaultThreshold, EmergencyContact: "+1"}, sink, zerolog.Nop())

	e.Escalate(context.Background(), "s1")

	if len(sink.notices) != 2 || sink.notices[1].Kind != notify.KindDispatch {
		t.Fatalf("dispatch must not be gated by advisory: %+v", sink.notices)
	}
}

func TestEveryQualifyingMessageRefiresWithoutCooldown(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Threshold: DefaultThreshold}, sink, zerolog.Nop())

	for i := 0; i < 3; i++ {
		e.Escalate(context.Background(), "s1")
	}
	if len(sink.notices) != 6 {
		t.Fatalf("expected 6 notices, got %d", len(sink.notices))
	}
}

func TestCooldownThrottlesPerSession(t *testing.T) {
	sink := &recordingSink{}
	e := New(Config{Threshold: DefaultThreshold, Cooldown: time.Hour}, sink, zerolog.Nop())
	ctx := context.Background()

	if !e.Escalate(ctx, "s1") {
		t.Fatal("first escalation must fire")
	}
	if e.Escalate(ctx, "s1") {
		t.Fatal("second escalation within cooldown must be throttled")
	}
	if !e.Escalate(ctx, "s2") {
		t.Fatal("other sessions have their own cooldown")
	}
	if len(sink.notices) != 4 {
		t.Fatalf("expected 4 notices, got %d", len(sink.notices))
	}
}

// blockingSink 在 ctx 结束前不返回，模拟无响应的通知渠道。
type blockingSink struct {
	calls []notify.Kind
}

func (b *blockingSink) Advise(ctx context.Context, n notify.Notice) error {
	b.calls = append(b.calls, n.Kind)
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingSink) Notify(ctx context.Context, n notify.Notice) error {
	b.calls = append(b.calls, n.Kind)
	<-ctx.Done()
	return ctx.Err()
}

func TestEscalateBoundsEachNotice(t *testing.T) {
	sink := &blockingSink{}
	e := New(Config{Threshold: DefaultThreshold, EmergencyContact: "+1", NoticeTimeout: 20 * time.Millisecond}, sink, zerolog.Nop())

	start := time.Now()
	if !e.Escalate(context.Background(), "s1") {
		t.Fatal("expected notices to fire")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("escalation blocked for %v", elapsed)
	}
	if len(sink.calls) != 2 || sink.calls[0] != notify.KindAdvisory || sink.calls[1] != notify.KindDispatch {
		t.Fatalf("expected advisory then dispatch despite timeouts, got %v", sink.calls)
	}
}

func TestNewDefaultsNoticeTimeout(t *testing.T) {
	e := New(Config{Threshold: DefaultThreshold}, &recordingSink{}, zerolog.Nop())
	if e.cfg.NoticeTimeout != DefaultNoticeTimeout {
		t.Fatalf("expected default notice timeout, got %v", e.cfg.NoticeTimeout)
	}
}
