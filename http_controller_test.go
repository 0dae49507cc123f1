package selfservice

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-selfservice/mailer"
	"github.com/goliatone/go-selfservice/scim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSelfServiceController(users UserService, opts ...SelfServiceControllerOption) *SelfServiceController {
	return newTestSelfServiceControllerWithSender(users, new(MockSender), opts...)
}

func newTestSelfServiceControllerWithSender(users UserService, sender EmailSender, opts ...SelfServiceControllerOption) *SelfServiceController {
	form := NewRegistrationForm(FormConfig{
		Fields: []string{FieldGivenName},
	})
	composer := &EmailComposer{
		From:     "noreply@example.com",
		Renderer: NewEmailRenderer(nil),
		Sender:   sender,
	}
	cfg := RegistrationConfig{ActivationTokenTimeout: time.Hour}

	opts = append([]SelfServiceControllerOption{
		WithBaseURL("https://example.com/"),
		WithControllerLogger(newCaptureLogger()),
		WithRegisterHandler(NewRegisterUserHandler(users, form, composer, cfg)),
		WithActivateHandler(NewActivateUserHandler(users, cfg)),
	}, opts...)

	return NewSelfServiceController(opts...)
}

func TestNewSelfServiceControllerRequiresHandlers(t *testing.T) {
	assert.Panics(t, func() {
		NewSelfServiceController()
	})

	ctrl := newTestSelfServiceController(new(MockUserService))
	assert.Equal(t, "https://example.com", ctrl.BaseURL)
	assert.Equal(t, "/registration", ctrl.Routes.Registration)
	assert.Equal(t, "/registration/activation", ctrl.Routes.Activation)
}

func TestRegistrationShowRendersFormFields(t *testing.T) {
	ctrl := newTestSelfServiceController(new(MockUserService))
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())

	ctx.On("Render", ctrl.Views.Registration, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		viewCtx, ok := args.Get(1).(router.ViewContext)
		require.True(t, ok, "expected router.ViewContext")

		fields, ok := viewCtx["fields"].([]FormField)
		require.True(t, ok)

		names := make([]string, 0, len(fields))
		for _, field := range fields {
			names = append(names, field.Name)
		}
		assert.Equal(t, ctrl.Register.Form().AllAllowedFields(), names)
		assert.Equal(t, true, viewCtx["username_equals_email"])
		assert.Equal(t, "/registration", viewCtx["registration_action_url"])
	})

	err := ctrl.RegistrationShow(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
}

func TestRegistrationShowDeniedByFeatureGate(t *testing.T) {
	ctrl := newTestSelfServiceController(new(MockUserService),
		WithControllerFeatureGate(StaticFeatureGate{gate.FeatureUsersSignup: false}),
	)

	var handledErr error
	ctrl.ErrorHandler = func(ctx router.Context, err error) error {
		handledErr = err
		return nil
	}

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())

	err := ctrl.RegistrationShow(ctx)
	require.NoError(t, err)
	require.Error(t, handledErr)
	assert.True(t, hasTextCode(handledErr, TextCodeSignupDisabled))
	ctx.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
}

func TestRegistrationCreateRerendersInvalidForm(t *testing.T) {
	users := new(MockUserService)
	ctrl := newTestSelfServiceController(users)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background()).Maybe()
	ctx.On("Bind", mock.Anything).Return(nil).Maybe()
	ctx.On("Status", mock.Anything).Return(ctx).Maybe()
	ctx.On("Cookie", mock.Anything).Return().Maybe()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil).Maybe()
	ctx.On("LocalsMerge", mock.Anything, mock.Anything).Return(map[string]any{}).Maybe()

	ctx.On("Render", ctrl.Views.Registration, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		viewCtx, ok := args.Get(1).(router.ViewContext)
		require.True(t, ok, "expected router.ViewContext")

		fields, ok := viewCtx["fields"].([]FormField)
		require.True(t, ok)
		for _, field := range fields {
			assert.Empty(t, field.Value, "password values are never echoed")
		}
	})

	err := ctrl.RegistrationCreate(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
	users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func newRegistrationPostContext(values map[string]string) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background()).Maybe()
	ctx.On("Bind", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		payload := args.Get(0).(*map[string]string)
		for key, value := range values {
			(*payload)[key] = value
		}
	}).Maybe()
	ctx.On("Status", mock.Anything).Return(ctx).Maybe()
	ctx.On("Cookie", mock.Anything).Return().Maybe()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil).Maybe()
	ctx.On("LocalsMerge", mock.Anything, mock.Anything).Return(map[string]any{}).Maybe()
	return ctx
}

func TestRegistrationCreateRendersSuccess(t *testing.T) {
	users := new(MockUserService)
	sender := new(MockSender)
	ctrl := newTestSelfServiceControllerWithSender(users, sender)

	users.On("SearchUsers", mock.Anything, mock.Anything).Return(&scim.ListResponse{TotalResults: 0}, nil)
	users.On("CreateUser", mock.Anything, mock.AnythingOfType("*scim.User")).
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

	ctx := newRegistrationPostContext(map[string]string{
		FieldEmail:     "jane@example.com",
		FieldPassword:  "s3cret-pass",
		FieldGivenName: "Jane",
	})
	ctx.On("Render", ctrl.Views.RegistrationSuccess, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		viewCtx, ok := args.Get(1).(router.ViewContext)
		require.True(t, ok, "expected router.ViewContext")

		user, ok := viewCtx["user"].(*scim.User)
		require.True(t, ok)
		assert.Equal(t, "user-1", user.ID)
		assert.Equal(t, "jane@example.com", user.UserName)
		assert.False(t, user.Active)
	})

	err := ctrl.RegistrationCreate(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
	ctx.AssertNotCalled(t, "Render", ctrl.Views.Registration, mock.Anything)
	users.AssertExpectations(t)

	assert.Equal(t, []string{"jane@example.com"}, sent.To)
	assert.Contains(t, sent.Text, "https://example.com/registration/activation?")
}

func TestRegistrationCreateUsernameTakenMarksEmailField(t *testing.T) {
	users := new(MockUserService)
	ctrl := newTestSelfServiceController(users)

	users.On("SearchUsers", mock.Anything, mock.Anything).Return(&scim.ListResponse{TotalResults: 1}, nil)

	ctx := newRegistrationPostContext(map[string]string{
		FieldEmail:     "jane@example.com",
		FieldPassword:  "s3cret-pass",
		FieldGivenName: "Jane",
	})
	ctx.On("Render", ctrl.Views.Registration, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		viewCtx, ok := args.Get(1).(router.ViewContext)
		require.True(t, ok, "expected router.ViewContext")

		validation, ok := viewCtx["validation"].(map[string]string)
		require.True(t, ok)
		assert.Equal(t, map[string]string{FieldEmail: "is already taken"}, validation)

		fields, ok := viewCtx["fields"].([]FormField)
		require.True(t, ok)
		for _, field := range fields {
			switch field.Name {
			case FieldEmail:
				assert.Equal(t, "is already taken", field.Error)
				assert.Equal(t, "jane@example.com", field.Value)
			case FieldPassword:
				assert.Empty(t, field.Value)
			default:
				assert.Empty(t, field.Error)
			}
		}
	})

	err := ctrl.RegistrationCreate(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
	users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestRegistrationCreateDeniedByFeatureGate(t *testing.T) {
	users := new(MockUserService)
	ctrl := newTestSelfServiceController(users,
		WithControllerFeatureGate(StaticFeatureGate{gate.FeatureUsersSignup: false}),
	)

	var handledErr error
	ctrl.ErrorHandler = func(ctx router.Context, err error) error {
		handledErr = err
		return nil
	}

	ctx := newRegistrationPostContext(map[string]string{
		FieldEmail:    "jane@example.com",
		FieldPassword: "s3cret-pass",
	})

	err := ctrl.RegistrationCreate(ctx)
	require.NoError(t, err)
	require.Error(t, handledErr)
	assert.True(t, hasTextCode(handledErr, TextCodeSignupDisabled))
	ctx.AssertNotCalled(t, "Bind", mock.Anything)
	ctx.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "SearchUsers", mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
}

func TestActivationRendersSuccess(t *testing.T) {
	users := new(MockUserService)
	ctrl := newTestSelfServiceController(users)

	token := NewOneTimeToken()
	users.On("GetUser", mock.Anything, "42").Return(userWithToken("42", DefaultActivationTokenField, token.String()), nil)
	users.On("PatchUser", mock.Anything, "42", mock.Anything).Return(&scim.User{ID: "42", Active: true}, nil)

	ctx := router.NewMockContext()
	ctx.QueriesM["userId"] = "42"
	ctx.QueriesM[activationTokenParam] = token.Token
	ctx.On("Context").Return(context.Background())

	ctx.On("Render", ctrl.Views.ActivationSuccess, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		viewCtx := args.Get(1).(router.ViewContext)
		user, ok := viewCtx["user"].(*scim.User)
		require.True(t, ok)
		assert.True(t, user.Active)
	})

	err := ctrl.Activation(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestActivationRendersError(t *testing.T) {
	users := new(MockUserService)
	ctrl := newTestSelfServiceController(users)

	users.On("GetUser", mock.Anything, "42").Return(userWithToken("42", DefaultActivationTokenField, NewOneTimeToken().String()), nil)

	ctx := router.NewMockContext()
	ctx.QueriesM["userId"] = "42"
	ctx.QueriesM[activationTokenParam] = "wrong"
	ctx.On("Context").Return(context.Background())
	ctx.On("Status", http.StatusBadRequest).Return(ctx).Maybe()

	ctx.On("Render", ctrl.Views.ActivationError, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		viewCtx := args.Get(1).(router.ViewContext)
		assert.Equal(t, false, viewCtx["expired"])
		assert.NotContains(t, viewCtx["error"], "wrong")
	})

	err := ctrl.Activation(ctx)
	require.NoError(t, err)
	ctx.AssertExpectations(t)
	users.AssertNotCalled(t, "PatchUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestRedactPasswords(t *testing.T) {
	out := redactPasswords(map[string]string{
		FieldEmail:           "jane@example.com",
		FieldPassword:        "secret",
		FieldConfirmPassword: "secret",
	})
	assert.Equal(t, map[string]string{FieldEmail: "jane@example.com"}, out)
}

func TestInputType(t *testing.T) {
	assert.Equal(t, "password", inputType(FieldConfirmPassword))
	assert.Equal(t, "email", inputType(FieldEmail))
	assert.Equal(t, "tel", inputType(FieldPhoneNumber))
	assert.Equal(t, "url", inputType(FieldProfileURL))
	assert.Equal(t, "text", inputType(FieldGivenName))
}
