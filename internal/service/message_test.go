package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"codecrew/internal/presence"
)

const projectApollo = 7

type messageEnv struct {
	projects *fakeProjects
	messages *fakeMessages
	notes    *fakeNotifications
	pusher   *fakePusher
	tracker  *presence.Tracker
	notifier Notifier
	svc      *MessageService
}

// newMessageEnv 建立项目 7（成员 1,2,3），online 中的用户有实时连接。
func newMessageEnv(online ...uint) *messageEnv {
	e := &messageEnv{
		projects: newFakeProjects(),
		messages: &fakeMessages{},
		notes:    &fakeNotifications{},
		pusher:   newFakePusher(online...),
		tracker:  presence.NewTracker(),
	}
	e.projects.add(projectApollo, "Apollo", 1, 2, 3)
	e.notifier = NewNotificationService(e.notes, e.pusher)
	e.svc = NewMessageService(e.projects, e.messages, fakeUsers{}, e.tracker, e.pusher, e.notifier)
	return e
}

func TestSend_PresentMemberBroadcastAbsentMemberNotified(t *testing.T) {
	e := newMessageEnv(1, 2)
	e.tracker.Join(projectApollo, 1)
	e.tracker.Join(projectApollo, 2)

	res, err := e.svc.Send(context.Background(), projectApollo, 1, "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !reflect.DeepEqual(res.Broadcast, []uint{2}) {
		t.Errorf("Broadcast = %v, want [2]", res.Broadcast)
	}
	if !reflect.DeepEqual(res.Notified, []uint{3}) {
		t.Errorf("Notified = %v, want [3]", res.Notified)
	}
	if res.Message.Sender.ID != 1 || res.Message.Sender.Username != "alice" {
		t.Errorf("Sender = %+v, want alice", res.Message.Sender)
	}

	evts := e.pusher.events(2)
	if len(evts) != 1 || evts[0].Type != EventNewMessage || evts[0].ProjectID != projectApollo {
		t.Errorf("user 2 events = %+v, want one new-message", evts)
	}
	if got := e.pusher.events(1); len(got) != 0 {
		t.Errorf("sender received %d events, want 0", len(got))
	}
	if got := e.notes.forUser(2); len(got) != 0 {
		t.Errorf("present member got notifications: %+v", got)
	}

	carol := e.notes.forUser(3)
	if len(carol) != 1 {
		t.Fatalf("user 3 notifications = %d, want 1", len(carol))
	}
	n := carol[0]
	if n.Type != CategoryNewMessage || n.Message != "New message in Apollo" {
		t.Errorf("notification = %+v", n)
	}
	wantMeta := map[string]any{"projectId": uint(projectApollo), "messageId": res.Message.ID, "sender": "alice", "preview": "hi"}
	if !reflect.DeepEqual(n.Metadata, wantMeta) {
		t.Errorf("metadata = %#v, want %#v", n.Metadata, wantMeta)
	}
	if e.messages.count() != 1 {
		t.Errorf("persisted messages = %d, want 1", e.messages.count())
	}
}

func TestSend_NobodyElsePresent(t *testing.T) {
	e := newMessageEnv(1)
	e.tracker.Join(projectApollo, 1)

	res, err := e.svc.Send(context.Background(), projectApollo, 1, "anyone?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(res.Broadcast) != 0 {
		t.Errorf("Broadcast = %v, want empty", res.Broadcast)
	}
	if !reflect.DeepEqual(res.Notified, []uint{2, 3}) {
		t.Errorf("Notified = %v, want [2 3]", res.Notified)
	}
	if len(e.notes.forUser(2)) != 1 || len(e.notes.forUser(3)) != 1 {
		t.Error("each absent member should get exactly one notification")
	}
	if len(e.notes.forUser(1)) != 0 {
		t.Error("sender must never be notified")
	}
}

func TestSend_SenderNotPresentStillExcluded(t *testing.T) {
	e := newMessageEnv(2)
	e.tracker.Join(projectApollo, 2)

	res, err := e.svc.Send(context.Background(), projectApollo, 1, "from the REST api")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !reflect.DeepEqual(res.Broadcast, []uint{2}) || !reflect.DeepEqual(res.Notified, []uint{3}) {
		t.Errorf("fan out = %v / %v, want [2] / [3]", res.Broadcast, res.Notified)
	}
}

func TestSend_StalePresenceIgnored(t *testing.T) {
	e := newMessageEnv(1, 4)
	e.tracker.Join(projectApollo, 1)
	// 4 曾经在场但已不是成员
	e.tracker.Join(projectApollo, 4)

	res, err := e.svc.Send(context.Background(), projectApollo, 1, "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	for _, id := range append(res.Broadcast, res.Notified...) {
		if id == 4 {
			t.Fatal("non-member 4 reached by fan out")
		}
	}
	if len(e.pusher.events(4)) != 0 {
		t.Error("non-member 4 received a push")
	}
}

func TestSend_NonMemberRejected(t *testing.T) {
	e := newMessageEnv(1, 2, 9)
	e.tracker.Join(projectApollo, 2)

	_, err := e.svc.Send(context.Background(), projectApollo, 9, "let me in")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("Send() error = %v, want ErrForbidden", err)
	}
	if e.messages.count() != 0 {
		t.Errorf("persisted messages = %d, want 0", e.messages.count())
	}
	if e.pusher.total() != 0 {
		t.Errorf("pushes = %d, want 0", e.pusher.total())
	}
}

func TestSend_ProjectNotFound(t *testing.T) {
	e := newMessageEnv()
	_, err := e.svc.Send(context.Background(), 404, 1, "hello")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("Send() error = %v, want ErrProjectNotFound", err)
	}
}

func TestSend_InvalidBody(t *testing.T) {
	e := newMessageEnv()
	for _, body := range []string{"", "   ", "\n\t", strings.Repeat("é", maxMessageRunes+1)} {
		_, err := e.svc.Send(context.Background(), projectApollo, 1, body)
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Send(%.10q) error = %v, want ErrValidation", body, err)
		}
	}
	if _, err := e.svc.Send(context.Background(), projectApollo, 1, strings.Repeat("é", maxMessageRunes)); err != nil {
		t.Errorf("Send() at the rune limit error = %v", err)
	}
}

func TestSend_PersistenceFailureHasNoSideEffects(t *testing.T) {
	e := newMessageEnv(1, 2)
	e.tracker.Join(projectApollo, 2)
	e.messages.err = errors.New("disk full")

	_, err := e.svc.Send(context.Background(), projectApollo, 1, "lost")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Send() error = %v, want ErrPersistence", err)
	}
	if e.pusher.total() != 0 {
		t.Errorf("pushes = %d, want 0", e.pusher.total())
	}
	if len(e.notes.forUser(3)) != 0 {
		t.Error("notification created after failed persist")
	}
}

func TestSend_DirectoryFailure(t *testing.T) {
	e := newMessageEnv()
	e.projects.err = errors.New("connection refused")
	_, err := e.svc.Send(context.Background(), projectApollo, 1, "hello")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Send() error = %v, want ErrPersistence", err)
	}
}

func TestSend_NotificationFailureDoesNotFailSend(t *testing.T) {
	e := newMessageEnv(1)
	e.notes.err = errors.New("notifications table locked")

	res, err := e.svc.Send(context.Background(), projectApollo, 1, "still delivered")
	if err != nil {
		t.Fatalf("Send() error = %v, want nil", err)
	}
	if e.messages.count() != 1 {
		t.Errorf("persisted messages = %d, want 1", e.messages.count())
	}
	if len(res.Notified) != 0 {
		t.Errorf("Notified = %v, want none when no notification was stored", res.Notified)
	}
}

func TestSend_CallerCancelAfterPersistStillNotifies(t *testing.T) {
	e := newMessageEnv(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 消息落库后调用方立即断开
	e.messages.afterCreate = cancel

	res, err := e.svc.Send(ctx, projectApollo, 1, "before the client went away")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("caller context should be canceled by now")
	}
	if !reflect.DeepEqual(res.Notified, []uint{2, 3}) {
		t.Errorf("Notified = %v, want [2 3]", res.Notified)
	}
	if len(e.notes.forUser(2)) != 1 || len(e.notes.forUser(3)) != 1 {
		t.Error("absent members must still get their notification records")
	}
}

func TestSend_NotifiedListsOnlyStoredNotifications(t *testing.T) {
	e := newMessageEnv(1)
	e.notifier = &flakyNotifier{inner: e.notifier, fail: map[uint]bool{2: true}}
	e.svc = NewMessageService(e.projects, e.messages, fakeUsers{}, e.tracker, e.pusher, e.notifier)

	res, err := e.svc.Send(context.Background(), projectApollo, 1, "partial")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !reflect.DeepEqual(res.Notified, []uint{3}) {
		t.Errorf("Notified = %v, want [3]", res.Notified)
	}
}

// flakyNotifier 对指定用户返回持久化错误。
type flakyNotifier struct {
	inner Notifier
	fail  map[uint]bool
}

func (f *flakyNotifier) Notify(ctx context.Context, userID uint, category, text string, metadata map[string]any) (*NotificationDTO, error) {
	if f.fail[userID] {
		return nil, persistence("create notification", errors.New("constraint violation"))
	}
	return f.inner.Notify(ctx, userID, category, text, metadata)
}

func TestSend_PerRoomOrdering(t *testing.T) {
	e := newMessageEnv(1, 2, 3)
	e.tracker.Join(projectApollo, 2)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(sender uint) {
			defer wg.Done()
			if _, err := e.svc.Send(context.Background(), projectApollo, sender, "msg"); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}(uint(1 + i%2*2)) // 1 或 3
	}
	wg.Wait()

	e.pusher.mu.Lock()
	raw := append([][]byte(nil), e.pusher.raw[2]...)
	e.pusher.mu.Unlock()
	if len(raw) != n {
		t.Fatalf("user 2 received %d messages, want %d", len(raw), n)
	}
	var last uint
	for _, b := range raw {
		var evt struct {
			Data MessageDTO `json:"data"`
		}
		if err := json.Unmarshal(b, &evt); err != nil {
			t.Fatal(err)
		}
		if evt.Data.ID <= last {
			t.Fatalf("out of order delivery: %d after %d", evt.Data.ID, last)
		}
		last = evt.Data.ID
	}
}

func TestHistory(t *testing.T) {
	e := newMessageEnv()
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three", "four"} {
		if _, err := e.svc.Send(ctx, projectApollo, 2, body); err != nil {
			t.Fatal(err)
		}
	}

	got, err := e.svc.History(ctx, projectApollo, 1, 0, 2)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "three" || got[1].Content != "four" {
		t.Fatalf("History() = %+v, want [three four]", got)
	}
	if got[0].Sender.Username != "bob" {
		t.Errorf("sender = %+v, want bob", got[0].Sender)
	}

	older, err := e.svc.History(ctx, projectApollo, 1, got[0].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 || older[0].Content != "one" {
		t.Errorf("History(before) = %+v, want [one two]", older)
	}

	if _, err := e.svc.History(ctx, projectApollo, 9, 0, 10); !errors.Is(err, ErrForbidden) {
		t.Errorf("non-member History() error = %v, want ErrForbidden", err)
	}
	if _, err := e.svc.History(ctx, 404, 1, 0, 10); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("missing project History() error = %v, want ErrProjectNotFound", err)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("short"); got != "short" {
		t.Errorf("preview(short) = %q", got)
	}
	long := strings.Repeat("日", 60)
	if got := preview(long); got != strings.Repeat("日", previewRunes) {
		t.Errorf("preview truncated to %d runes, want %d", len([]rune(got)), previewRunes)
	}
}
