package selfservice

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-featuregate/gate"
	"github.com/goliatone/go-selfservice/mailer"
	"github.com/goliatone/go-selfservice/scim"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "SELFSERVICE_"

// Config is the service configuration, loaded from the environment
type Config struct {
	BaseURL    string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	Debug      bool   `env:"DEBUG"`

	// SignupEnabled toggles the users.signup feature gate
	SignupEnabled bool `env:"SIGNUP_ENABLED" envDefault:"true"`

	SCIM         SCIMConfig         `envPrefix:"SCIM_"`
	Mail         MailConfig         `envPrefix:"MAIL_"`
	Registration RegistrationEnv    `envPrefix:"REGISTRATION_"`
	Scavenger    ScavengerEnvConfig `envPrefix:"SCAVENGER_"`
	CSRF         CSRFConfig         `envPrefix:"CSRF_"`
	Persistence  PersistenceConfig  `envPrefix:"PERSISTENCE_"`
}

// PersistenceConfig configures the activity store database
type PersistenceConfig struct {
	DSN            string        `env:"DSN" envDefault:"file:selfservice.db?cache=shared" json:"-"`
	Driver         string        `env:"DRIVER" envDefault:"sqlite"`
	Debug          bool          `env:"DEBUG"`
	PingTimeout    time.Duration `env:"PING_TIMEOUT" envDefault:"5s"`
	OtelIdentifier string        `env:"OTEL_IDENTIFIER"`
}

func (p PersistenceConfig) GetDSN() string                { return p.DSN }
func (p PersistenceConfig) GetDriver() string             { return p.Driver }
func (p PersistenceConfig) GetServer() string             { return p.DSN }
func (p PersistenceConfig) GetDebug() bool                { return p.Debug }
func (p PersistenceConfig) GetPingTimeout() time.Duration { return p.PingTimeout }
func (p PersistenceConfig) GetOtelIdentifier() string     { return p.OtelIdentifier }

type SCIMConfig struct {
	Endpoint     string        `env:"ENDPOINT"`
	TokenURL     string        `env:"TOKEN_URL"`
	ClientID     string        `env:"CLIENT_ID"`
	ClientSecret string        `env:"CLIENT_SECRET" json:"-"`
	Scopes       []string      `env:"SCOPES" envSeparator:"," envDefault:"ADMIN"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	PageSize     int           `env:"PAGE_SIZE" envDefault:"100"`
}

type MailConfig struct {
	From     string `env:"FROM" envDefault:"noreply@localhost"`
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD" json:"-"`
	StartTLS bool   `env:"SMTP_STARTTLS" envDefault:"true"`
}

type RegistrationEnv struct {
	ExtensionURN         string   `env:"EXTENSION_URN" envDefault:"urn:org.osiam:scim:extensions:addon-self-administration"`
	ActivationTokenField string   `env:"ACTIVATION_TOKEN_FIELD" envDefault:"activationToken"`
	ActivationTimeout    string   `env:"ACTIVATION_TIMEOUT" envDefault:"24h"`
	Fields               []string `env:"FIELDS" envSeparator:","`
	Extensions           []string `env:"EXTENSIONS" envSeparator:","`
	UsernameEqualsEmail  bool     `env:"USERNAME_EQUALS_EMAIL" envDefault:"true"`
	PasswordLength       int      `env:"PASSWORD_LENGTH" envDefault:"8"`
	PhoneRegion          string   `env:"PHONE_REGION"`
	UserRole             string   `env:"USER_ROLE" envDefault:"USER"`
	UseHashid            bool     `env:"USE_HASHID"`
}

// CSRFConfig protects the registration form, an empty secret means a
// random key per process
type CSRFConfig struct {
	Secret     string        `env:"SECRET" json:"-"`
	Expiration time.Duration `env:"EXPIRATION" envDefault:"2h"`
}

type ScavengerEnvConfig struct {
	Enabled                bool          `env:"ENABLED" envDefault:"true"`
	InitialDelay           time.Duration `env:"INITIAL_DELAY" envDefault:"1m"`
	OneTimePasswordField   string        `env:"ONE_TIME_PASSWORD_FIELD" envDefault:"oneTimePassword"`
	OneTimePasswordTimeout string        `env:"ONE_TIME_PASSWORD_TIMEOUT" envDefault:"24h"`
	EmailConfirmTokenField string        `env:"EMAIL_CONFIRM_TOKEN_FIELD" envDefault:"emailConfirmToken"`
	TempEmailField         string        `env:"TEMP_EMAIL_FIELD" envDefault:"tempMail"`
	EmailConfirmTimeout    string        `env:"EMAIL_CONFIRM_TIMEOUT" envDefault:"24h"`
}

// LoadConfig reads the optional dotenv files and parses the environment.
// Missing dotenv files are ignored.
func LoadConfig(dotenvFiles ...string) (Config, error) {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load dotenv file").
				WithMetadata(map[string]any{"file": file})
		}
	}

	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse environment")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}

	return cfg, nil
}

// Validate will run validation rules
func (c Config) Validate() error {
	return validation.Errors{
		"base_url":        validation.Validate(c.BaseURL, validation.Required, is.URL),
		"scim.endpoint":   validation.Validate(c.SCIM.Endpoint, validation.Required, is.URL),
		"scim.token_url":  validation.Validate(c.SCIM.TokenURL, is.URL),
		"mail.from":       validation.Validate(c.Mail.From, validation.Required),
		"csrf.secret":     validation.Validate(c.CSRF.Secret, validation.Length(32, 0)),
		"persistence.dsn": validation.Validate(c.Persistence.DSN, validation.Required),
		"registration.activation_timeout": validation.Validate(c.Registration.ActivationTimeout,
			validation.Required, validation.By(validTimeout)),
		"registration.password_length": validation.Validate(c.Registration.PasswordLength, validation.Min(1)),
		"scavenger.one_time_password_timeout": validation.Validate(c.Scavenger.OneTimePasswordTimeout,
			validation.Required, validation.By(validTimeout)),
		"scavenger.email_confirm_timeout": validation.Validate(c.Scavenger.EmailConfirmTimeout,
			validation.Required, validation.By(validTimeout)),
	}.Filter()
}

func validTimeout(value any) error {
	s, _ := value.(string)
	_, err := ParseTimeout(s)
	return err
}

// SCIMClientConfig maps the settings onto the SCIM client
func (c Config) SCIMClientConfig() scim.Config {
	return scim.Config{
		Endpoint:     c.SCIM.Endpoint,
		TokenURL:     c.SCIM.TokenURL,
		ClientID:     c.SCIM.ClientID,
		ClientSecret: c.SCIM.ClientSecret,
		Scopes:       c.SCIM.Scopes,
		Timeout:      c.SCIM.Timeout,
		PageSize:     c.SCIM.PageSize,
	}
}

// SMTPConfig returns the relay settings, ok is false when no host is set
func (c Config) SMTPConfig() (mailer.SMTPConfig, bool) {
	return mailer.SMTPConfig{
		Host:     c.Mail.Host,
		Port:     c.Mail.Port,
		Username: c.Mail.Username,
		Password: c.Mail.Password,
		StartTLS: c.Mail.StartTLS,
	}, c.Mail.Host != ""
}

// FormConfig returns the registration form settings
func (c Config) FormConfig() FormConfig {
	return FormConfig{
		Fields:                   c.Registration.Fields,
		Extensions:               c.Registration.Extensions,
		UsernameDiffersFromEmail: !c.Registration.UsernameEqualsEmail,
		PasswordLength:           c.Registration.PasswordLength,
		DefaultPhoneRegion:       c.Registration.PhoneRegion,
	}
}

// RegistrationConfig returns the handler settings
func (c Config) RegistrationConfig() (RegistrationConfig, error) {
	timeout, err := ParseTimeout(c.Registration.ActivationTimeout)
	if err != nil {
		return RegistrationConfig{}, err
	}
	return RegistrationConfig{
		ExtensionURN:           c.Registration.ExtensionURN,
		ActivationTokenField:   c.Registration.ActivationTokenField,
		ActivationTokenTimeout: timeout,
		UserRole:               c.Registration.UserRole,
		UseHashid:              c.Registration.UseHashid,
	}.withDefaults(), nil
}

// FeatureGate returns a static gate for the configured features
func (c Config) FeatureGate() StaticFeatureGate {
	return StaticFeatureGate{
		gate.FeatureUsersSignup: c.SignupEnabled,
	}
}

// ScavengerSpec names the token field a scavenger purges
type ScavengerSpec struct {
	TokenField     string
	Timeout        time.Duration
	FieldsToDelete []string
}

// ScavengerSpecs returns the activation, one-time password and email
// confirmation scavengers
func (c Config) ScavengerSpecs() ([]ScavengerSpec, error) {
	reg, err := c.RegistrationConfig()
	if err != nil {
		return nil, err
	}

	otp, err := ParseTimeout(c.Scavenger.OneTimePasswordTimeout)
	if err != nil {
		return nil, err
	}

	confirm, err := ParseTimeout(c.Scavenger.EmailConfirmTimeout)
	if err != nil {
		return nil, err
	}

	return []ScavengerSpec{
		{TokenField: reg.ActivationTokenField, Timeout: reg.ActivationTokenTimeout},
		{TokenField: c.Scavenger.OneTimePasswordField, Timeout: otp},
		{
			TokenField:     c.Scavenger.EmailConfirmTokenField,
			Timeout:        confirm,
			FieldsToDelete: []string{c.Scavenger.TempEmailField},
		},
	}, nil
}

// NewScavengers builds one task per ScavengerSpec for the configured extension
func (c Config) NewScavengers(users UserService, opts ...ScavengerOption) ([]*ScavengerTask, error) {
	specs, err := c.ScavengerSpecs()
	if err != nil {
		return nil, err
	}

	opts = append([]ScavengerOption{WithScavengerInitialDelay(c.Scavenger.InitialDelay)}, opts...)

	tasks := make([]*ScavengerTask, 0, len(specs))
	for _, spec := range specs {
		tasks = append(tasks, NewScavengerTask(users, spec.Timeout, c.Registration.ExtensionURN,
			spec.TokenField, spec.FieldsToDelete, opts...))
	}
	return tasks, nil
}
