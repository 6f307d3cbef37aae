package services_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/civicdesk/civic-portal/backend/services/complaint-service/models"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/repository"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/sender"
	"github.com/civicdesk/civic-portal/backend/services/complaint-service/services"
)

// memComplaints is an in-memory ComplaintRepository.
type memComplaints struct {
	mu        sync.Mutex
	docs      map[string]models.Complaint
	history   []models.StatusHistory
	listErr   error
	createErr []error
}

func newMemComplaints(cs ...models.Complaint) *memComplaints {
	m := &memComplaints{docs: map[string]models.Complaint{}}
	for _, c := range cs {
		m.docs[c.ID] = c
	}
	return m
}

func (m *memComplaints) Create(_ context.Context, c *models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.createErr) > 0 {
		err := m.createErr[0]
		m.createErr = m.createErr[1:]
		if err != nil {
			return err
		}
	}
	if _, ok := m.docs[c.ID]; ok {
		return repository.ErrConflict
	}
	m.docs[c.ID] = *c
	return nil
}

func (m *memComplaints) FindByID(_ context.Context, id string) (*models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (m *memComplaints) List(_ context.Context, f models.ComplaintFilter) ([]models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Complaint
	for _, c := range m.docs {
		if len(f.Statuses) > 0 && !contains(f.Statuses, c.Status) {
			continue
		}
		if f.Department != "" && c.Department != f.Department {
			continue
		}
		if f.UserID != "" && c.UserID != f.UserID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memComplaints) ApplyUpdate(_ context.Context, id string, mutate repository.MutateFunc) (*models.Complaint, *models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.docs[id]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	before := cur
	entry, err := mutate(&cur)
	if err != nil {
		return nil, nil, err
	}
	m.docs[id] = cur
	if entry != nil {
		entry.ID = fmt.Sprintf("h%d", len(m.history)+1)
		m.history = append(m.history, *entry)
	}
	after := cur
	return &before, &after, nil
}

func (m *memComplaints) ListHistory(_ context.Context, complaintID string) ([]models.StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StatusHistory
	for _, h := range m.history {
		if h.ComplaintID == complaintID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memComplaints) MarkEscalated(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.docs[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if c.EscalatedAt != nil {
		return false, nil
	}
	c.EscalatedAt = &at
	m.docs[id] = c
	return true, nil
}

func (m *memComplaints) historyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// memTokens is an in-memory TokenRepository.
type memTokens struct {
	mu     sync.Mutex
	tokens map[string]models.DeviceToken
}

func newMemTokens(ts ...models.DeviceToken) *memTokens {
	m := &memTokens{tokens: map[string]models.DeviceToken{}}
	for _, t := range ts {
		m.tokens[t.ID()] = t
	}
	return m
}

func (m *memTokens) find(userID string, activeOnly bool) (*models.DeviceToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.DeviceToken
	for _, t := range m.tokens {
		t := t
		if t.UserID != userID || (activeOnly && !t.Active) {
			continue
		}
		if best == nil || t.UpdatedAt.After(best.UpdatedAt) {
			best = &t
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best, nil
}

func (m *memTokens) FindActive(_ context.Context, userID string) (*models.DeviceToken, error) {
	return m.find(userID, true)
}

func (m *memTokens) FindLatest(_ context.Context, userID string) (*models.DeviceToken, error) {
	return m.find(userID, false)
}

func (m *memTokens) Upsert(_ context.Context, t *models.DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.tokens[t.ID()]; ok {
		t.CreatedAt = prev.CreatedAt
	}
	m.tokens[t.ID()] = *t
	return nil
}

func (m *memTokens) DeactivateAll(_ context.Context, userID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tokens {
		if t.UserID == userID && t.Active {
			t.Active = false
			t.UpdatedAt = at
			m.tokens[id] = t
			n++
		}
	}
	return n, nil
}

// memLogs is an in-memory NotificationLogRepository.
type memLogs struct {
	mu   sync.Mutex
	logs []models.NotificationLog
}

func (m *memLogs) SaveLog(_ context.Context, l *models.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = fmt.Sprintf("log%d", len(m.logs)+1)
	m.logs = append(m.logs, *l)
	return nil
}

func (m *memLogs) GetLogs(_ context.Context, f models.NotificationFilter) ([]models.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NotificationLog
	for _, l := range m.logs {
		if (f.UserID == "" || l.UserID == f.UserID) &&
			(f.ComplaintID == "" || l.ComplaintID == f.ComplaintID) &&
			(f.Type == "" || l.Type == f.Type) &&
			(f.Status == "" || l.Status == f.Status) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memLogs) DeleteOlderThan(_ context.Context, cutoff time.Time, _ int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.logs[:0]
	n := 0
	for _, l := range m.logs {
		if l.SentAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.logs = kept
	return n, nil
}

func (m *memLogs) ofKind(kind string) []models.NotificationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.NotificationLog
	for _, l := range m.logs {
		if l.Type == kind {
			out = append(out, l)
		}
	}
	return out
}

func (m *memLogs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

type memCivicIssues map[string]models.CivicIssue

func (m memCivicIssues) FindByCity(_ context.Context, city string) (*models.CivicIssue, error) {
	ci, ok := m[models.CivicIssueID(city)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &ci, nil
}

// fakeSender records every message and fails when err is set.
type fakeSender struct {
	mu   sync.Mutex
	sent []sender.Message
	err  error
}

func (s *fakeSender) Send(_ context.Context, msg sender.Message) (sender.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return sender.SendResult{}, s.err
	}
	s.sent = append(s.sent, msg)
	return sender.SendResult{MessageID: fmt.Sprintf("msg-%d", len(s.sent)), SentAt: time.Now().UTC()}, nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeImages struct {
	objects map[string][]byte
}

func (f *fakeImages) PutObject(_ context.Context, key, _ string, body []byte) error {
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = body
	return nil
}

func (f *fakeImages) GeneratePresignedPutURL(_ context.Context, key, _ string, _ time.Duration) (string, map[string]string, error) {
	return "https://bucket.example/" + key + "?sig=1", map[string]string{"Host": "bucket.example"}, nil
}

type fakeEscalator struct {
	mu  sync.Mutex
	got []services.Escalation
	err error
}

func (e *fakeEscalator) Escalate(_ context.Context, esc services.Escalation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, esc)
	return e.err
}

type fakePublisher struct {
	events []models.ChangeEvent
}

func (p *fakePublisher) PublishChange(_ context.Context, evt models.ChangeEvent) error {
	p.events = append(p.events, evt)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var errBoom = errors.New("boom")

// fixture wires the services to in-memory fakes.
type fixture struct {
	complaints *memComplaints
	tokens     *memTokens
	logs       *memLogs
	sender     *fakeSender
	dispatcher *services.Dispatcher
}

func newFixture(cs ...models.Complaint) *fixture {
	f := &fixture{
		complaints: newMemComplaints(cs...),
		tokens:     newMemTokens(),
		logs:       &memLogs{},
		sender:     &fakeSender{},
	}
	f.dispatcher = services.NewDispatcher(
		f.complaints, f.tokens, f.logs, f.sender,
		repository.NewMemoryDeduper(time.Hour),
		nil, nil,
		services.DispatcherConfig{ClickActionBaseURL: "https://portal.example/", Icon: "/icon.png"},
	)
	return f
}

func (f *fixture) withToken(userID, token string) *fixture {
	now := time.Now().UTC()
	f.tokens.Upsert(context.Background(), &models.DeviceToken{
		UserID: userID, Token: token, DeviceClass: models.DeviceWeb, Active: true, CreatedAt: now, UpdatedAt: now,
	})
	return f
}

var (
	admin   = models.Principal{UserID: "admin-1", Role: models.RoleAdmin}
	citizen = models.Principal{UserID: "citizen-1", Role: models.RoleCitizen}
)
