package selfservice

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-selfservice/scim"
	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/language"
)

// Registration form field names
const (
	FieldEmail             = "email"
	FieldPassword          = "password"
	FieldConfirmPassword   = "confirmPassword"
	FieldUserName          = "userName"
	FieldFormattedName     = "formattedName"
	FieldGivenName         = "givenName"
	FieldFamilyName        = "familyName"
	FieldMiddleName        = "middleName"
	FieldHonorificPrefix   = "honorificPrefix"
	FieldHonorificSuffix   = "honorificSuffix"
	FieldDisplayName       = "displayName"
	FieldNickName          = "nickName"
	FieldTitle             = "title"
	FieldProfileURL        = "profileUrl"
	FieldPreferredLanguage = "preferredLanguage"
	FieldLocale            = "locale"
	FieldTimezone          = "timezone"
	FieldPhoneNumber       = "phoneNumber"
)

const defaultPasswordLength = 8

// FormConfig describes which registration fields are offered
type FormConfig struct {
	// Fields are core field names, e.g. "givenName", "confirmPassword"
	Fields []string
	// Extensions are fully qualified extension fields "<urn>:<field>"
	Extensions []string
	// UsernameDiffersFromEmail asks for a separate userName, by default
	// the email doubles as user name
	UsernameDiffersFromEmail bool
	PasswordLength           int
	// DefaultPhoneRegion is used to parse numbers without country code
	DefaultPhoneRegion string
}

// RegistrationForm holds the resolved field whitelist and validation rules
type RegistrationForm struct {
	allowedFields           []string
	extensions              []string
	usernameEqualsEmail     bool
	passwordLength          int
	confirmPasswordRequired bool
	phoneRegion             string
}

// NewRegistrationForm resolves the allowed fields: email and password
// are always offered, userName only when it is not derived from email.
func NewRegistrationForm(cfg FormConfig) *RegistrationForm {
	fields := make([]string, 0, len(cfg.Fields)+3)
	for _, field := range cfg.Fields {
		field = strings.TrimSpace(field)
		if field == "" || slices.Contains(fields, field) {
			continue
		}
		fields = append(fields, field)
	}

	if !slices.Contains(fields, FieldEmail) {
		fields = append(fields, FieldEmail)
	}

	if !slices.Contains(fields, FieldPassword) {
		fields = append(fields, FieldPassword)
	}

	confirmRequired := slices.Contains(fields, FieldConfirmPassword)

	usernameEqualsEmail := !cfg.UsernameDiffersFromEmail
	hasUserName := slices.Contains(fields, FieldUserName)
	if !usernameEqualsEmail && !hasUserName {
		fields = append(fields, FieldUserName)
	} else if usernameEqualsEmail && hasUserName {
		fields = slices.DeleteFunc(fields, func(f string) bool { return f == FieldUserName })
	}

	extensions := make([]string, 0, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		extensions = append(extensions, ext)
	}

	passwordLength := cfg.PasswordLength
	if passwordLength <= 0 {
		passwordLength = defaultPasswordLength
	}

	return &RegistrationForm{
		allowedFields:           fields,
		extensions:              extensions,
		usernameEqualsEmail:     usernameEqualsEmail,
		passwordLength:          passwordLength,
		confirmPasswordRequired: confirmRequired,
		phoneRegion:             strings.ToUpper(strings.TrimSpace(cfg.DefaultPhoneRegion)),
	}
}

// AllowedFields returns the core fields
func (f *RegistrationForm) AllowedFields() []string {
	return slices.Clone(f.allowedFields)
}

// AllAllowedFields returns core and extension fields
func (f *RegistrationForm) AllAllowedFields() []string {
	all := make([]string, 0, len(f.allowedFields)+len(f.extensions))
	all = append(all, f.allowedFields...)
	return append(all, f.extensions...)
}

// PasswordLength is the minimum password length
func (f *RegistrationForm) PasswordLength() int {
	return f.passwordLength
}

// UsernameEqualsEmail reports whether the email doubles as user name
func (f *RegistrationForm) UsernameEqualsEmail() bool {
	return f.usernameEqualsEmail
}

// ConfirmPasswordRequired reports whether the form asks for the password twice
func (f *RegistrationForm) ConfirmPasswordRequired() bool {
	return f.confirmPasswordRequired
}

// IsAllowed reports whether the field may be submitted
func (f *RegistrationForm) IsAllowed(field string) bool {
	return slices.Contains(f.allowedFields, field) || slices.Contains(f.extensions, field)
}

// Registration is the whitelisted form submission
type Registration struct {
	Fields     map[string]string
	Extensions map[string]map[string]string
}

// Get returns a core field value
func (r Registration) Get(field string) string {
	return r.Fields[field]
}

// Email is the submitted address
func (r Registration) Email() string {
	return r.Fields[FieldEmail]
}

// ParseRegistration drops every field the form does not offer
func (f *RegistrationForm) ParseRegistration(values map[string]string) Registration {
	reg := Registration{
		Fields:     map[string]string{},
		Extensions: map[string]map[string]string{},
	}

	for key, value := range values {
		if !f.IsAllowed(key) {
			continue
		}

		value = strings.TrimSpace(value)
		if key == FieldPassword || key == FieldConfirmPassword {
			value = values[key]
		}

		if slices.Contains(f.extensions, key) {
			urn, field, ok := SplitExtensionField(key)
			if !ok || value == "" {
				continue
			}
			if reg.Extensions[urn] == nil {
				reg.Extensions[urn] = map[string]string{}
			}
			reg.Extensions[urn][field] = value
			continue
		}

		reg.Fields[key] = value
	}

	if f.usernameEqualsEmail {
		reg.Fields[FieldUserName] = reg.Fields[FieldEmail]
	}

	return reg
}

// Validate runs the field rules, the error is a validation.Errors keyed by field
func (f *RegistrationForm) Validate(reg Registration) error {
	errs := validation.Errors{
		FieldEmail: validation.Validate(reg.Get(FieldEmail),
			validation.Required,
			validation.Length(3, 320),
			is.Email,
		),
		FieldPassword: validation.Validate(reg.Get(FieldPassword),
			validation.Required,
			validation.Length(f.passwordLength, 0),
		),
	}

	if f.confirmPasswordRequired {
		errs[FieldConfirmPassword] = validation.Validate(reg.Get(FieldConfirmPassword),
			validation.Required,
			validation.By(ValidateStringEquals(reg.Get(FieldPassword))),
		)
	}

	if !f.usernameEqualsEmail {
		errs[FieldUserName] = validation.Validate(reg.Get(FieldUserName),
			validation.Required,
			validation.Length(1, 255),
		)
	}

	if phone := reg.Get(FieldPhoneNumber); phone != "" {
		errs[FieldPhoneNumber] = validation.Validate(phone, validation.By(f.validatePhone))
	}

	if locale := reg.Get(FieldLocale); locale != "" {
		errs[FieldLocale] = validation.Validate(locale, validation.By(validateLocale))
	}

	if url := reg.Get(FieldProfileURL); url != "" {
		errs[FieldProfileURL] = validation.Validate(url, is.URL)
	}

	return errs.Filter()
}

// ToUser maps the registration into a SCIM user
func (f *RegistrationForm) ToUser(reg Registration) *scim.User {
	user := &scim.User{
		UserName:          reg.Get(FieldUserName),
		Password:          reg.Get(FieldPassword),
		DisplayName:       reg.Get(FieldDisplayName),
		NickName:          reg.Get(FieldNickName),
		Title:             reg.Get(FieldTitle),
		ProfileURL:        reg.Get(FieldProfileURL),
		PreferredLanguage: reg.Get(FieldPreferredLanguage),
		Locale:            reg.Get(FieldLocale),
		Timezone:          reg.Get(FieldTimezone),
	}

	if email := reg.Email(); email != "" {
		user.Emails = []scim.MultiValuedAttribute{{Value: email, Primary: true}}
	}

	if phone := reg.Get(FieldPhoneNumber); phone != "" {
		user.PhoneNumbers = []scim.MultiValuedAttribute{{Value: f.normalizePhone(phone)}}
	}

	name := &scim.Name{
		Formatted:       reg.Get(FieldFormattedName),
		GivenName:       reg.Get(FieldGivenName),
		FamilyName:      reg.Get(FieldFamilyName),
		MiddleName:      reg.Get(FieldMiddleName),
		HonorificPrefix: reg.Get(FieldHonorificPrefix),
		HonorificSuffix: reg.Get(FieldHonorificSuffix),
	}
	if !name.IsZero() {
		user.Name = name
	}

	for urn, fields := range reg.Extensions {
		ext := scim.NewExtension(urn)
		for k, v := range fields {
			ext.SetField(k, v)
		}
		user.AddExtension(ext)
	}

	return user
}

func (f *RegistrationForm) validatePhone(value any) error {
	s, _ := value.(string)
	num, err := phonenumbers.Parse(s, f.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}

func (f *RegistrationForm) normalizePhone(value string) string {
	num, err := phonenumbers.Parse(value, f.phoneRegion)
	if err != nil {
		return value
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func validateLocale(value any) error {
	s, _ := value.(string)
	if _, err := language.Parse(strings.ReplaceAll(s, "_", "-")); err != nil {
		return errors.New("must be a valid locale")
	}
	return nil
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// SplitExtensionField splits "<urn>:<field>" on the last colon
func SplitExtensionField(qualified string) (urn, field string, ok bool) {
	i := strings.LastIndex(qualified, ":")
	if i <= 0 || i == len(qualified)-1 {
		return "", "", false
	}
	return qualified[:i], qualified[i+1:], true
}

// FormatValidationErrorToMap flattens ozzo errors for views
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var errs validation.Errors
	if errors.As(err, &errs) {
		for field, fieldErr := range errs {
			if fieldErr != nil {
				out[field] = fieldErr.Error()
			}
		}
		return out
	}

	out["form"] = fmt.Sprint(err)
	return out
}
