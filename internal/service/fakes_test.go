package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"codecrew/internal/models"
	"codecrew/internal/presence"
)

type fakeProjects struct {
	mu       sync.Mutex
	projects map[uint]*models.ProjectInfo
	err      error
	nextID   uint
}

func newFakeProjects() *fakeProjects {
	return &fakeProjects{projects: map[uint]*models.ProjectInfo{}, nextID: 100}
}

// add 登记一个项目，第一个成员为负责人。
func (f *fakeProjects) add(id uint, name string, memberIDs ...uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.ProjectInfo{ID: id, Name: name}
	for i, m := range memberIDs {
		if i == 0 {
			p.LeaderID = m
		}
		p.Members = append(p.Members, models.Member{ID: m, Username: username(m)})
	}
	f.projects[id] = p
}

func (f *fakeProjects) GetProject(_ context.Context, projectID uint) (*models.ProjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.projects[projectID]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.Members = append([]models.Member(nil), p.Members...)
	return &cp, nil
}

func (f *fakeProjects) IsMember(ctx context.Context, projectID, userID uint) (bool, error) {
	p, err := f.GetProject(ctx, projectID)
	if err != nil || p == nil {
		return false, err
	}
	_, ok := p.Member(userID)
	return ok, nil
}

func (f *fakeProjects) Create(_ context.Context, name, description string, leaderID uint) (*models.Project, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	f.add(id, name, leaderID)
	return &models.Project{ID: id, Name: name, Description: description, LeaderID: leaderID}, nil
}

func (f *fakeProjects) AddMember(_ context.Context, projectID, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	p := f.projects[projectID]
	p.Members = append(p.Members, models.Member{ID: userID, Username: username(userID)})
	return nil
}

func (f *fakeProjects) ListForUser(_ context.Context, userID uint) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Project
	for _, p := range f.projects {
		if _, ok := p.Member(userID); ok {
			out = append(out, models.Project{ID: p.ID, Name: p.Name, LeaderID: p.LeaderID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type fakeMessages struct {
	mu   sync.Mutex
	msgs []models.Message
	err  error

	// afterCreate 在消息落库后调用，用来模拟调用方随后断开。
	afterCreate func()
}

func (f *fakeMessages) CreateMessage(_ context.Context, projectID, senderID uint, body string) (*models.Message, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	m := models.Message{ID: uint(len(f.msgs) + 1), ProjectID: projectID, SenderID: senderID, Content: body, CreatedAt: time.Now()}
	f.msgs = append(f.msgs, m)
	hook := f.afterCreate
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &m, nil
}

func (f *fakeMessages) ListByProject(_ context.Context, projectID uint, beforeID uint, limit int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Message
	for i := len(f.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.msgs[i]
		if m.ProjectID != projectID || (beforeID > 0 && m.ID >= beforeID) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMessages) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeNotifications struct {
	mu    sync.Mutex
	items []models.Notification
	err   error
}

// CreateNotification 和 gorm 一样，ctx 已取消时直接失败。
func (f *fakeNotifications) CreateNotification(ctx context.Context, userID uint, category, text string, metadata map[string]any) (*models.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	n := models.Notification{ID: uint(len(f.items) + 1), UserID: userID, Type: category, Message: text, Metadata: metadata, CreatedAt: time.Now()}
	f.items = append(f.items, n)
	return &n, nil
}

func (f *fakeNotifications) ListByUser(_ context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Notification
	for i := len(f.items) - 1; i >= 0 && len(out) < limit; i-- {
		n := f.items[i]
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, userID, notificationID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for i := range f.items {
		if f.items[i].ID == notificationID && f.items[i].UserID == userID {
			f.items[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNotifications) forUser(userID uint) []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, n := range f.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

type fakeUsers struct{}

func (fakeUsers) Usernames(_ context.Context, ids []uint) (map[uint]string, error) {
	out := make(map[uint]string, len(ids))
	for _, id := range ids {
		out[id] = username(id)
	}
	return out, nil
}

func username(id uint) string {
	return []string{"", "alice", "bob", "carol", "dave", "erin"}[id%6]
}

// fakePusher 模拟连接注册表：只有 online 中的用户能收到推送。
type fakePusher struct {
	mu     sync.Mutex
	online map[uint]bool
	got    map[uint][]Event
	raw    map[uint][][]byte
}

func newFakePusher(online ...uint) *fakePusher {
	p := &fakePusher{online: map[uint]bool{}, got: map[uint][]Event{}, raw: map[uint][][]byte{}}
	for _, id := range online {
		p.online[id] = true
	}
	return p
}

func (p *fakePusher) Push(userID uint, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[userID] {
		return presence.ErrOffline
	}
	var evt Event
	_ = json.Unmarshal(payload, &evt)
	p.got[userID] = append(p.got[userID], evt)
	p.raw[userID] = append(p.raw[userID], payload)
	return nil
}

func (p *fakePusher) events(userID uint) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.got[userID]...)
}

func (p *fakePusher) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, evts := range p.got {
		n += len(evts)
	}
	return n
}

type fakeSink struct {
	mu  sync.Mutex
	got []NotificationDTO
	err error
}

func (s *fakeSink) Publish(_ context.Context, n NotificationDTO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
	return s.err
}
