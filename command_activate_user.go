package selfservice

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-selfservice/scim"
)

type ActivateUserMessage struct {
	UserID          string `json:"user_id"`
	ActivationToken string `json:"activation_token"`
	OnResponse      func(user *scim.User)
}

func (e ActivateUserMessage) Type() string { return "selfservice.user.activate" }

// ActivateUserHandler checks the activation token stored on the user and
// flips the user to active
type ActivateUserHandler struct {
	users    UserService
	cfg      RegistrationConfig
	activity ActivitySink
	logger   Logger
}

// NewActivateUserHandler creates a handler with sane defaults.
func NewActivateUserHandler(users UserService, cfg RegistrationConfig) *ActivateUserHandler {
	return &ActivateUserHandler{
		users:    users,
		cfg:      cfg.withDefaults(),
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit activation events.
func (h *ActivateUserHandler) WithActivitySink(sink ActivitySink) *ActivateUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ActivateUserHandler) WithLogger(logger Logger) *ActivateUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ActivateUserHandler) Execute(ctx context.Context, event ActivateUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user activation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ActivateUserHandler) execute(ctx context.Context, event ActivateUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return activationError("activation failed, user id is empty")
	}

	if strings.TrimSpace(event.ActivationToken) == "" {
		return activationError("activation failed, activation token is empty").
			WithMetadata(map[string]any{"user_id": userID})
	}

	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		if scim.IsNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryNotFound, "activation failed, user not found").
				WithCode(goerrors.CodeNotFound).
				WithTextCode(TextCodeActivationFailed).
				WithMetadata(map[string]any{"user_id": userID})
		}
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to load user")
	}

	if user.Active {
		h.respond(event, user)
		return nil
	}

	stored, ok := h.storedToken(user)
	if !ok {
		return activationError("activation failed, no activation token stored").
			WithMetadata(map[string]any{"user_id": userID})
	}

	token := ParseOneTimeToken(stored)

	if token.IsExpired(h.cfg.ActivationTokenTimeout) {
		patch := scim.NewPatch().RemoveExtensionField(h.cfg.ExtensionURN, h.cfg.ActivationTokenField)
		if _, err := h.users.PatchUser(ctx, userID, patch); err != nil {
			h.logger.Warn("failed to remove expired activation token", "user_id", userID, "error", err)
		}

		recordActivity(ctx, h.activity, h.logger, ActivityEvent{
			EventType: ActivityEventActivationExpired,
			Actor:     ActorRef{ID: userID, Type: ActorTypeUser},
			UserID:    userID,
			Metadata: map[string]any{
				"issued_at": token.IssuedAt,
			},
		})

		return ErrActivationTokenExpired
	}

	if !token.Matches(event.ActivationToken) {
		return ErrActivationTokenMismatch
	}

	patch := scim.NewPatch().
		RemoveExtensionField(h.cfg.ExtensionURN, h.cfg.ActivationTokenField).
		Replace("active", true)

	updated, err := h.users.PatchUser(ctx, userID, patch)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to activate user").
			WithMetadata(map[string]any{"user_id": userID})
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: ActivityEventUserActivated,
		Actor:     ActorRef{ID: userID, Type: ActorTypeUser},
		UserID:    userID,
		Metadata: map[string]any{
			"user_name": updated.UserName,
		},
	})

	h.respond(event, updated)
	return nil
}

func (h *ActivateUserHandler) storedToken(user *scim.User) (string, bool) {
	ext, ok := user.Extension(h.cfg.ExtensionURN)
	if !ok {
		return "", false
	}
	value, ok := ext.FieldAsString(h.cfg.ActivationTokenField)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return value, true
}

func (h *ActivateUserHandler) respond(event ActivateUserMessage, user *scim.User) {
	if event.OnResponse != nil {
		event.OnResponse(user)
	}
}
