package selfservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-selfservice/mailer"
	"github.com/goliatone/go-selfservice/scim"
	"github.com/stretchr/testify/mock"
)

// MockUserService implements UserService
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) SearchUsers(ctx context.Context, query scim.Query) (*scim.ListResponse, error) {
	args := m.Called(ctx, query)
	res, _ := args.Get(0).(*scim.ListResponse)
	return res, args.Error(1)
}

func (m *MockUserService) SearchAllUsers(ctx context.Context, query scim.Query) ([]*scim.User, error) {
	args := m.Called(ctx, query)
	res, _ := args.Get(0).([]*scim.User)
	return res, args.Error(1)
}

func (m *MockUserService) GetUser(ctx context.Context, id string) (*scim.User, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*scim.User)
	return res, args.Error(1)
}

func (m *MockUserService) CreateUser(ctx context.Context, user *scim.User) (*scim.User, error) {
	args := m.Called(ctx, user)
	if fn, ok := args.Get(0).(func(context.Context, *scim.User) *scim.User); ok {
		return fn(ctx, user), args.Error(1)
	}
	res, _ := args.Get(0).(*scim.User)
	return res, args.Error(1)
}

func (m *MockUserService) PatchUser(ctx context.Context, id string, patch *scim.PatchRequest) (*scim.User, error) {
	args := m.Called(ctx, id, patch)
	res, _ := args.Get(0).(*scim.User)
	return res, args.Error(1)
}

// MockSender implements EmailSender
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, msg mailer.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// recordingSink collects activity events
type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return s.err
}

func (s *recordingSink) Events() []ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ActivityEvent(nil), s.events...)
}

// captureLogger keeps formatted log lines per level
type captureLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{lines: map[string][]string{}}
}

func (l *captureLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines[level] = append(l.lines[level], fmt.Sprint(append([]any{msg}, args...)...))
}

func (l *captureLogger) Debug(msg string, args ...any) { l.log("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.log("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.log("error", msg, args...) }

func (l *captureLogger) Lines(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines[level]...)
}

// userWithToken builds an inactive user carrying a stored one-time token
func userWithToken(id, field, token string) *scim.User {
	ext := scim.NewExtension(DefaultExtensionURN)
	ext.SetField(field, token)
	user := &scim.User{
		ID:       id,
		UserName: id + "@example.com",
		Emails:   []scim.MultiValuedAttribute{{Value: id + "@example.com", Primary: true}},
	}
	user.AddExtension(ext)
	return user
}
