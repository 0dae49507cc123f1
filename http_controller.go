package selfservice

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
	"github.com/goliatone/go-selfservice/middleware/csrf"
	"github.com/goliatone/go-selfservice/scim"
)

// RegisterSelfServiceRoutes mounts the registration and activation routes
func RegisterSelfServiceRoutes[T any](app router.Router[T], opts ...SelfServiceControllerOption) *SelfServiceController {

	controller := NewSelfServiceController(opts...)

	app.Get(controller.Routes.Registration, controller.RegistrationShow).
		SetName("registration.get")
	app.Post(controller.Routes.Registration, controller.RegistrationCreate).
		SetName("registration.post")

	app.Get(controller.Routes.Activation, controller.Activation).
		SetName("registration-activation.get")

	return controller
}

type SelfServiceControllerRoutes struct {
	Registration string
	Activation   string
}

type SelfServiceControllerViews struct {
	Registration        string
	RegistrationSuccess string
	ActivationSuccess   string
	ActivationError     string
}

type SelfServiceController struct {
	Debug        bool
	Logger       Logger
	BaseURL      string
	Routes       *SelfServiceControllerRoutes
	Views        *SelfServiceControllerViews
	Register     *RegisterUserHandler
	Activate     *ActivateUserHandler
	ErrorHandler router.ErrorHandler
	featureGate  gate.FeatureGate
}

type SelfServiceControllerOption func(*SelfServiceController) *SelfServiceController

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) SelfServiceControllerOption {
	return func(c *SelfServiceController) *SelfServiceController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithControllerDebug prints handler responses
func WithControllerDebug(debug bool) SelfServiceControllerOption {
	return func(c *SelfServiceController) *SelfServiceController {
		c.Debug = debug
		return c
	}
}

// WithBaseURL sets the public URL used to build activation links
func WithBaseURL(base string) SelfServiceControllerOption {
	return func(c *SelfServiceController) *SelfServiceController {
		c.BaseURL = strings.TrimRight(base, "/")
		return c
	}
}

// WithRegisterHandler sets the registration handler
func WithRegisterHandler(h *RegisterUserHandler) SelfServiceControllerOption {
	return func(c *SelfServiceController) *SelfServiceController {
		c.Register = h
		return c
	}
}

// WithActivateHandler sets the activation handler
func WithActivateHandler(h *ActivateUserHandler) SelfServiceControllerOption {
	return func(c *SelfServiceController) *SelfServiceController {
		c.Activate = h
		return c
	}
}

// WithControllerFeatureGate hides the registration form when signup is off
func WithControllerFeatureGate(featureGate gate.FeatureGate) SelfServiceControllerOption {
	return func(c *SelfServiceController) *SelfServiceController {
		c.featureGate = featureGate
		return c
	}
}

// WithControllerErrorHandler overrides the error handler
func WithControllerErrorHandler(handler router.ErrorHandler) SelfServiceControllerOption {
	return func(c *SelfServiceController) *SelfServiceController {
		if handler != nil {
			c.ErrorHandler = handler
		}
		return c
	}
}

func NewSelfServiceController(opts ...SelfServiceControllerOption) *SelfServiceController {
	c := &SelfServiceController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &SelfServiceControllerRoutes{
			Registration: "/registration",
			Activation:   "/registration/activation",
		},
		Views: &SelfServiceControllerViews{
			Registration:        "registration",
			RegistrationSuccess: "registration_success",
			ActivationSuccess:   "activation_success",
			ActivationError:     "activation_error",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Register == nil {
		panic("Missing RegisterUserHandler in self service controller...")
	}

	if c.Activate == nil {
		panic("Missing ActivateUserHandler in self service controller...")
	}

	return c
}

// FormField is the view model of a single registration input
type FormField struct {
	Name  string
	Type  string
	Value string
	Error string
}

func (a *SelfServiceController) formContext(ctx router.Context, record map[string]string, validation map[string]string) router.ViewContext {
	form := a.Register.Form()

	fields := make([]FormField, 0, len(form.AllAllowedFields()))
	for _, name := range form.AllAllowedFields() {
		field := FormField{
			Name:  name,
			Type:  inputType(name),
			Error: validation[name],
		}
		if field.Type != "password" {
			field.Value = record[name]
		}
		fields = append(fields, field)
	}

	viewCtx := router.ViewContext{
		"fields":                  fields,
		"password_length":         form.PasswordLength(),
		"confirm_password":        form.ConfirmPasswordRequired(),
		"username_equals_email":   form.UsernameEqualsEmail(),
		"record":                  record,
		"validation":              validation,
		"errors":                  []string{},
		"registration_action_url": a.Routes.Registration,
	}

	for key, value := range csrf.TemplateHelpers(ctx, "") {
		viewCtx[key] = value
	}

	return viewCtx
}

func inputType(field string) string {
	switch field {
	case FieldPassword, FieldConfirmPassword:
		return "password"
	case FieldEmail:
		return "email"
	case FieldPhoneNumber:
		return "tel"
	case FieldProfileURL:
		return "url"
	default:
		return "text"
	}
}

func (a *SelfServiceController) RegistrationShow(ctx router.Context) error {
	if err := requireSignupGate(ctx.Context(), a.featureGate); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Render(a.Views.Registration, a.formContext(ctx, map[string]string{}, map[string]string{}))
}

func (a *SelfServiceController) RegistrationCreate(ctx router.Context) error {
	if err := requireSignupGate(ctx.Context(), a.featureGate); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := map[string]string{}

	if err := ctx.Bind(&payload); err != nil {
		a.Logger.Error("registration parse payload", "error", err)
		viewCtx := a.formContext(ctx, payload, map[string]string{})
		viewCtx["errors"] = []string{"Failed to parse form"}
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Registration, viewCtx)
	}

	form := a.Register.Form()
	if err := form.Validate(form.ParseRegistration(payload)); err != nil {
		a.Logger.Debug("registration validate payload", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.Registration, a.formContext(ctx, redactPasswords(payload), FormatValidationErrorToMap(err)))
	}

	var res *RegisterUserResponse
	req := RegisterUserMessage{
		Values:        payload,
		ActivationURL: a.BaseURL + a.Routes.Activation,
		OnResponse: func(resp *RegisterUserResponse) {
			res = resp
		},
	}

	if err := a.Register.Execute(ctx.Context(), req); err != nil {
		if IsUsernameTakenError(err) {
			field := FieldUserName
			if form.UsernameEqualsEmail() {
				field = FieldEmail
			}
			return ctx.Render(a.Views.Registration, a.formContext(ctx, redactPasswords(payload), map[string]string{
				field: "is already taken",
			}))
		}

		if isForbidden(err) {
			return a.ErrorHandler(ctx, err)
		}

		a.Logger.Error("registration error", "error", err)
		viewCtx := a.formContext(ctx, redactPasswords(payload), map[string]string{})
		viewCtx["errors"] = []string{err.Error()}
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error registering user",
		}).Status(http.StatusInternalServerError).Render(a.Views.Registration, viewCtx)
	}

	if a.Debug {
		a.Logger.Debug("registration response", "response", print.MaybePrettyJSON(res))
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Successful user registration",
	}).Render(a.Views.RegistrationSuccess, router.ViewContext{
		"user": res.User,
	})
}

func (a *SelfServiceController) Activation(ctx router.Context) error {
	var user *scim.User
	req := ActivateUserMessage{
		UserID:          ctx.Query("userId", ""),
		ActivationToken: ctx.Query(activationTokenParam, ""),
		OnResponse: func(u *scim.User) {
			user = u
		},
	}

	if err := a.Activate.Execute(ctx.Context(), req); err != nil {
		a.Logger.Warn("activation failed", "user_id", req.UserID, "error", err)
		return ctx.Status(http.StatusBadRequest).Render(a.Views.ActivationError, router.ViewContext{
			"error":   err.Error(),
			"expired": IsActivationExpired(err),
		})
	}

	if a.Debug {
		a.Logger.Debug("activation response", "user", print.MaybePrettyJSON(user))
	}

	return ctx.Render(a.Views.ActivationSuccess, router.ViewContext{
		"user": user,
	})
}

func redactPasswords(payload map[string]string) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == FieldPassword || k == FieldConfirmPassword {
			continue
		}
		out[k] = v
	}
	return out
}

func isForbidden(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryAuthz
	}
	return false
}

func defaultErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	return c.Status(status).Render("errors/500", router.ViewContext{
		"error":   richErr,
		"message": richErr.Message,
	})
}
