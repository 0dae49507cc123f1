package selfservice

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-selfservice/mailer"
	"github.com/goliatone/go-selfservice/scim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestRegisterHandler(users UserService, sender EmailSender, cfg RegistrationConfig) *RegisterUserHandler {
	form := NewRegistrationForm(FormConfig{
		Fields: []string{FieldGivenName, FieldFamilyName, FieldConfirmPassword},
	})
	composer := &EmailComposer{
		From:     "noreply@example.com",
		Renderer: NewEmailRenderer(nil),
		Sender:   sender,
	}
	return NewRegisterUserHandler(users, form, composer, cfg).WithLogger(newCaptureLogger())
}

func validRegistrationValues() map[string]string {
	return map[string]string{
		FieldEmail:           "jane@example.com",
		FieldPassword:        "s3cret-pass",
		FieldConfirmPassword: "s3cret-pass",
		FieldGivenName:       "Jane",
		FieldFamilyName:      "Doe",
	}
}

func TestRegisterUserHandler_CreatesInactiveUserAndSendsEmail(t *testing.T) {
	users := new(MockUserService)
	sender := new(MockSender)
	sink := &recordingSink{}

	users.On("SearchUsers", mock.Anything, mock.MatchedBy(func(q scim.Query) bool {
		return q.Filter == `userName eq "jane@example.com"`
	})).Return(&scim.ListResponse{TotalResults: 0}, nil)

	var created *scim.User
	users.On("CreateUser", mock.Anything, mock.AnythingOfType("*scim.User")).
		Run(func(args mock.Arguments) {
			created = args.Get(1).(*scim.User)
		}).
		Return(func(_ context.Context, u *scim.User) *scim.User {
			u.ID = "user-1"
			return u
		}, nil)

	var sent mailer.Message
	sender.On("Send", mock.Anything, mock.AnythingOfType("mailer.Message")).
		Run(func(args mock.Arguments) {
			sent = args.Get(1).(mailer.Message)
		}).
		Return(nil)

	handler := newTestRegisterHandler(users, sender, RegistrationConfig{}).WithActivitySink(sink)

	var resp *RegisterUserResponse
	err := handler.Execute(context.Background(), RegisterUserMessage{
		Values:        validRegistrationValues(),
		ActivationURL: "https://example.com/registration/activation",
		OnResponse: func(r *RegisterUserResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	require.NotNil(t, created)
	assert.False(t, created.Active)
	assert.Equal(t, "jane@example.com", created.UserName)
	require.Len(t, created.Roles, 1)
	assert.Equal(t, DefaultUserRole, created.Roles[0].Value)
	require.NotNil(t, created.Name)
	assert.Equal(t, "Jane", created.Name.GivenName)

	ext, ok := created.Extension(DefaultExtensionURN)
	require.True(t, ok)
	stored, ok := ext.FieldAsString(DefaultActivationTokenField)
	require.True(t, ok)
	token := ParseOneTimeToken(stored)
	assert.NotEmpty(t, token.Token)
	assert.False(t, token.IssuedAt.IsZero())

	link, err := url.Parse(resp.ActivationLink)
	require.NoError(t, err)
	assert.Equal(t, "/registration/activation", link.Path)
	assert.Equal(t, "user-1", link.Query().Get("userId"))
	assert.Equal(t, token.Token, link.Query().Get("activationToken"))

	assert.Equal(t, []string{"jane@example.com"}, sent.To)
	assert.Equal(t, "noreply@example.com", sent.From)
	assert.Equal(t, "Activate your account", sent.Subject)
	assert.Contains(t, sent.HTML, "Jane")
	assert.True(t, strings.Contains(sent.Text, resp.ActivationLink))

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, ActivityEventRegistrationCreated, events[0].EventType)
	assert.Equal(t, "user-1", events[0].UserID)

	users.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestRegisterUserHandler_UsernameTaken(t *testing.T) {
	users := new(MockUserService)
	sender := new(MockSender)

	users.On("SearchUsers", mock.Anything, mock.Anything).
		Return(&scim.ListResponse{TotalResults: 1}, nil)

	handler := newTestRegisterHandler(users, sender, RegistrationConfig{})

	err := handler.Execute(context.Background(), RegisterUserMessage{
		Values: validRegistrationValues(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.True(t, IsUsernameTakenError(err))

	users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRegisterUserHandler_ConflictOnCreateMapsToTaken(t *testing.T) {
	users := new(MockUserService)
	sender := new(MockSender)

	users.On("SearchUsers", mock.Anything, mock.Anything).
		Return(&scim.ListResponse{TotalResults: 0}, nil)
	users.On("CreateUser", mock.Anything, mock.Anything).
		Return(nil, &scim.Error{Status: 409, Detail: "duplicate"})

	handler := newTestRegisterHandler(users, sender, RegistrationConfig{})

	err := handler.Execute(context.Background(), RegisterUserMessage{
		Values: validRegistrationValues(),
	})
	require.Error(t, err)
	assert.True(t, IsUsernameTakenError(err))
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRegisterUserHandler_InvalidFormDoesNotCallServer(t *testing.T) {
	users := new(MockUserService)
	sender := new(MockSender)

	handler := newTestRegisterHandler(users, sender, RegistrationConfig{})

	values := validRegistrationValues()
	values[FieldConfirmPassword] = "something-else"
	values[FieldEmail] = "not-an-email"

	err := handler.Execute(context.Background(), RegisterUserMessage{Values: values})
	require.Error(t, err)

	fields := FormatValidationErrorToMap(handler.Form().Validate(handler.Form().ParseRegistration(values)))
	assert.Contains(t, fields, FieldEmail)
	assert.Contains(t, fields, FieldConfirmPassword)

	users.AssertNotCalled(t, "SearchUsers", mock.Anything, mock.Anything)
}

func TestRegisterUserHandler_EmailFailureIsReturned(t *testing.T) {
	users := new(MockUserService)
	sender := new(MockSender)
	sink := &recordingSink{}

	users.On("SearchUsers", mock.Anything, mock.Anything).
		Return(&scim.ListResponse{TotalResults: 0}, nil)
	users.On("CreateUser", mock.Anything, mock.Anything).
		Return(func(_ context.Context, u *scim.User) *scim.User {
			u.ID = "user-2"
			return u
		}, nil)
	sender.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

	handler := newTestRegisterHandler(users, sender, RegistrationConfig{}).WithActivitySink(sink)

	err := handler.Execute(context.Background(), RegisterUserMessage{
		Values: validRegistrationValues(),
	})
	require.Error(t, err)
	assert.Empty(t, sink.Events())
}

func TestRegisterUserHandler_HashidExternalID(t *testing.T) {
	users := new(MockUserService)
	sender := new(MockSender)

	users.On("SearchUsers", mock.Anything, mock.Anything).
		Return(&scim.ListResponse{TotalResults: 0}, nil)

	var externalIDs []string
	users.On("CreateUser", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			externalIDs = append(externalIDs, args.Get(1).(*scim.User).ExternalID)
		}).
		Return(func(_ context.Context, u *scim.User) *scim.User {
			u.ID = "user-3"
			return u
		}, nil)
	sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	handler := newTestRegisterHandler(users, sender, RegistrationConfig{UseHashid: true})

	for range 2 {
		require.NoError(t, handler.Execute(context.Background(), RegisterUserMessage{
			Values: validRegistrationValues(),
		}))
	}

	require.Len(t, externalIDs, 2)
	assert.NotEmpty(t, externalIDs[0])
	assert.Equal(t, externalIDs[0], externalIDs[1])
}

func TestRegisterUserHandler_FeatureGateDisabled(t *testing.T) {
	users := new(MockUserService)
	sender := new(MockSender)

	handler := newTestRegisterHandler(users, sender, RegistrationConfig{}).
		WithFeatureGate(StaticFeatureGate{gate.FeatureUsersSignup: false})

	err := handler.Execute(context.Background(), RegisterUserMessage{
		Values: validRegistrationValues(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignupDisabled)
	users.AssertNotCalled(t, "SearchUsers", mock.Anything, mock.Anything)
}

func TestRegisterUserHandler_CancelledContext(t *testing.T) {
	handler := newTestRegisterHandler(new(MockUserService), new(MockSender), RegistrationConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Execute(ctx, RegisterUserMessage{Values: validRegistrationValues()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
