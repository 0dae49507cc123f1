package selfservice

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-selfservice/scim"
	"github.com/goliatone/hashid/pkg/hashid"
)

const (
	// DefaultExtensionURN is the internal extension holding one-time tokens
	DefaultExtensionURN = "urn:org.osiam:scim:extensions:addon-self-administration"
	// DefaultActivationTokenField stores the activation token
	DefaultActivationTokenField = "activationToken"
	// DefaultUserRole is granted to self registered users
	DefaultUserRole = "USER"
	// DefaultActivationTokenTimeout applies when no timeout is set
	DefaultActivationTokenTimeout = 24 * time.Hour

	activationTokenParam = "activationToken"
	registrationTemplate = "registration"
)

// RegistrationConfig holds the settings shared by registration and activation
type RegistrationConfig struct {
	ExtensionURN         string
	ActivationTokenField string
	// ActivationTokenTimeout defaults to 24h, negative values never expire
	ActivationTokenTimeout time.Duration
	UserRole               string
	// UseHashid derives a stable externalId from the email address
	UseHashid bool
}

func (c RegistrationConfig) withDefaults() RegistrationConfig {
	if c.ExtensionURN == "" {
		c.ExtensionURN = DefaultExtensionURN
	}
	if c.ActivationTokenField == "" {
		c.ActivationTokenField = DefaultActivationTokenField
	}
	if c.UserRole == "" {
		c.UserRole = DefaultUserRole
	}
	if c.ActivationTokenTimeout == 0 {
		c.ActivationTokenTimeout = DefaultActivationTokenTimeout
	}
	return c
}

type RegisterUserMessage struct {
	Values map[string]string `json:"values"`
	// ActivationURL is the absolute URL of the activation endpoint
	ActivationURL string `json:"activation_url"`
	OnResponse    func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "selfservice.user.register" }

type RegisterUserResponse struct {
	User           *scim.User
	ActivationLink string
}

type RegisterUserHandler struct {
	users       UserService
	form        *RegistrationForm
	email       *EmailComposer
	cfg         RegistrationConfig
	activity    ActivitySink
	logger      Logger
	featureGate gate.FeatureGate
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(users UserService, form *RegistrationForm, email *EmailComposer, cfg RegistrationConfig) *RegisterUserHandler {
	return &RegisterUserHandler{
		users:    users,
		form:     form,
		email:    email,
		cfg:      cfg.withDefaults(),
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithFeatureGate guards registration behind the signup feature.
func (h *RegisterUserHandler) WithFeatureGate(featureGate gate.FeatureGate) *RegisterUserHandler {
	h.featureGate = featureGate
	return h
}

// Form returns the registration form the handler validates against
func (h *RegisterUserHandler) Form() *RegistrationForm {
	return h.form
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := requireSignupGate(ctx, h.featureGate); err != nil {
		return err
	}

	reg := h.form.ParseRegistration(event.Values)
	if err := h.form.Validate(reg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration").
			WithCode(goerrors.CodeBadRequest)
	}

	userName := reg.Get(FieldUserName)
	taken, err := h.IsUsernameTaken(ctx, userName)
	if err != nil {
		return unwrapRich(err, "failed to check user name")
	}
	if taken {
		return ErrUsernameTaken
	}

	user, err := h.saveRegistrationUser(ctx, h.form.ToUser(reg))
	if err != nil {
		return unwrapRich(err, "could not create user")
	}

	link, err := h.sendRegistrationEmail(ctx, user, event.ActivationURL)
	if err != nil {
		h.logger.Error("registration email failed", "user_id", user.ID, "error", err)
		return unwrapRich(err, "failed to send registration email")
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventRegistrationCreated,
		Actor:     ActorRef{ID: user.ID, Type: ActorTypeUser},
		UserID:    user.ID,
		Metadata: map[string]any{
			"user_name": user.UserName,
		},
	})

	if event.OnResponse != nil {
		event.OnResponse(&RegisterUserResponse{
			User:           user,
			ActivationLink: link,
		})
	}

	return nil
}

// IsUsernameTaken searches the identity server for the user name
func (h *RegisterUserHandler) IsUsernameTaken(ctx context.Context, userName string) (bool, error) {
	res, err := h.users.SearchUsers(ctx, scim.Query{
		Filter:     scim.EqualsFilter("userName", userName),
		Attributes: []string{"id"},
	})
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to search users")
	}
	return res.TotalResults != 0, nil
}

// saveRegistrationUser stores the user inactive, with role and activation token
func (h *RegisterUserHandler) saveRegistrationUser(ctx context.Context, user *scim.User) (*scim.User, error) {
	ext, ok := user.Extension(h.cfg.ExtensionURN)
	if !ok {
		ext = scim.NewExtension(h.cfg.ExtensionURN)
		user.AddExtension(ext)
	}
	ext.SetField(h.cfg.ActivationTokenField, NewOneTimeToken().String())

	user.Active = false
	user.AddRole(h.cfg.UserRole)

	if h.cfg.UseHashid {
		if email, ok := user.PrimaryOrFirstEmail(); ok {
			if id, err := hashid.NewUUID(strings.ToLower(email.Value)); err == nil {
				user.ExternalID = id.String()
			}
		}
	}

	created, err := h.users.CreateUser(ctx, user)
	if err != nil {
		if scim.IsConflict(err) {
			return nil, ErrUsernameTaken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "could not create user")
	}

	return created, nil
}

// sendRegistrationEmail mails the activation link built from the stored token
func (h *RegisterUserHandler) sendRegistrationEmail(ctx context.Context, user *scim.User, activationURL string) (string, error) {
	ext, ok := user.Extension(h.cfg.ExtensionURN)
	if !ok {
		return "", goerrors.New("created user is missing the activation extension", goerrors.CategoryInternal)
	}

	stored, ok := ext.FieldAsString(h.cfg.ActivationTokenField)
	if !ok {
		return "", goerrors.New("created user is missing the activation token", goerrors.CategoryInternal)
	}

	token := ParseOneTimeToken(stored)
	link := CreateLinkForEmail(activationURL, user.ID, activationTokenParam, token.Token)

	err := h.email.Send(ctx, registrationTemplate, user, map[string]any{
		"registrationLink": link,
		"user":             user,
		"name":             greetingName(user),
	})

	return link, err
}

func greetingName(user *scim.User) string {
	if user.Name != nil && user.Name.GivenName != "" {
		return user.Name.GivenName
	}
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.UserName
}
