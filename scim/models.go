package scim

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const (
	// SchemaUser is the SCIM core user schema
	SchemaUser = "urn:ietf:params:scim:schemas:core:2.0:User"
	// SchemaListResponse is the schema for search results
	SchemaListResponse = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	// SchemaPatchOp is the schema for PATCH requests
	SchemaPatchOp = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	// SchemaError is the schema of error responses
	SchemaError = "urn:ietf:params:scim:api:messages:2.0:Error"
)

// Name holds the components of a user's name
type Name struct {
	Formatted       string `json:"formatted,omitempty"`
	FamilyName      string `json:"familyName,omitempty"`
	GivenName       string `json:"givenName,omitempty"`
	MiddleName      string `json:"middleName,omitempty"`
	HonorificPrefix string `json:"honorificPrefix,omitempty"`
	HonorificSuffix string `json:"honorificSuffix,omitempty"`
}

// IsZero reports whether no name component is set
func (n *Name) IsZero() bool {
	return n == nil || *n == Name{}
}

// MultiValuedAttribute is used for emails, phone numbers and roles
type MultiValuedAttribute struct {
	Value   string `json:"value,omitempty"`
	Display string `json:"display,omitempty"`
	Type    string `json:"type,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// Meta is the resource metadata maintained by the server
type Meta struct {
	ResourceType string     `json:"resourceType,omitempty"`
	Created      *time.Time `json:"created,omitempty"`
	LastModified *time.Time `json:"lastModified,omitempty"`
	Location     string     `json:"location,omitempty"`
	Version      string     `json:"version,omitempty"`
}

// Extension holds the attributes of a schema extension
type Extension struct {
	URN    string
	Fields map[string]any
}

// NewExtension creates an empty extension
func NewExtension(urn string) *Extension {
	return &Extension{URN: urn, Fields: map[string]any{}}
}

// SetField stores a value, returning the extension for chaining
func (e *Extension) SetField(name string, value any) *Extension {
	if e.Fields == nil {
		e.Fields = map[string]any{}
	}
	e.Fields[name] = value
	return e
}

// FieldAsString returns the string value of a field
func (e *Extension) FieldAsString(name string) (string, bool) {
	if e == nil || e.Fields == nil {
		return "", false
	}
	raw, ok := e.Fields[name]
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// User is a SCIM user resource
type User struct {
	Schemas           []string               `json:"schemas,omitempty"`
	ID                string                 `json:"id,omitempty"`
	ExternalID        string                 `json:"externalId,omitempty"`
	UserName          string                 `json:"userName,omitempty"`
	Name              *Name                  `json:"name,omitempty"`
	DisplayName       string                 `json:"displayName,omitempty"`
	NickName          string                 `json:"nickName,omitempty"`
	ProfileURL        string                 `json:"profileUrl,omitempty"`
	Title             string                 `json:"title,omitempty"`
	UserType          string                 `json:"userType,omitempty"`
	PreferredLanguage string                 `json:"preferredLanguage,omitempty"`
	Locale            string                 `json:"locale,omitempty"`
	Timezone          string                 `json:"timezone,omitempty"`
	Active            bool                   `json:"active"`
	Password          string                 `json:"password,omitempty"`
	Emails            []MultiValuedAttribute `json:"emails,omitempty"`
	PhoneNumbers      []MultiValuedAttribute `json:"phoneNumbers,omitempty"`
	Roles             []MultiValuedAttribute `json:"roles,omitempty"`
	Meta              *Meta                  `json:"meta,omitempty"`

	Extensions map[string]*Extension `json:"-"`
}

// userAlias avoids MarshalJSON recursion
type userAlias User

// Extension returns the extension registered under urn
func (u *User) Extension(urn string) (*Extension, bool) {
	if u == nil || u.Extensions == nil {
		return nil, false
	}
	ext, ok := u.Extensions[urn]
	return ext, ok && ext != nil
}

// AddExtension attaches an extension, replacing any previous one with the same URN
func (u *User) AddExtension(ext *Extension) *User {
	if ext == nil {
		return u
	}
	if u.Extensions == nil {
		u.Extensions = map[string]*Extension{}
	}
	u.Extensions[ext.URN] = ext
	return u
}

// AddRole appends a role value
func (u *User) AddRole(value string) *User {
	u.Roles = append(u.Roles, MultiValuedAttribute{Value: value})
	return u
}

// PrimaryOrFirstEmail returns the primary email, or the first one when
// none is flagged primary
func (u *User) PrimaryOrFirstEmail() (MultiValuedAttribute, bool) {
	if u == nil || len(u.Emails) == 0 {
		return MultiValuedAttribute{}, false
	}
	for _, e := range u.Emails {
		if e.Primary {
			return e, true
		}
	}
	return u.Emails[0], true
}

// MarshalJSON writes extensions as top level objects keyed by URN
func (u User) MarshalJSON() ([]byte, error) {
	alias := userAlias(u)
	alias.Schemas = u.schemas()

	base, err := json.Marshal(alias)
	if err != nil {
		return nil, err
	}

	if len(u.Extensions) == 0 {
		return base, nil
	}

	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &out); err != nil {
		return nil, err
	}

	for urn, ext := range u.Extensions {
		if ext == nil {
			continue
		}
		fields := ext.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out[urn] = raw
	}

	return json.Marshal(out)
}

// UnmarshalJSON reads every top level URN key listed in schemas as an extension
func (u *User) UnmarshalJSON(data []byte) error {
	var alias userAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*u = User(alias)

	for key, value := range raw {
		if !isExtensionKey(key) {
			continue
		}
		fields := map[string]any{}
		if err := json.Unmarshal(value, &fields); err != nil {
			return err
		}
		u.AddExtension(&Extension{URN: key, Fields: fields})
	}

	return nil
}

func (u User) schemas() []string {
	schemas := []string{SchemaUser}
	urns := make([]string, 0, len(u.Extensions))
	for urn, ext := range u.Extensions {
		if ext != nil {
			urns = append(urns, urn)
		}
	}
	sort.Strings(urns)
	return append(schemas, urns...)
}

func isExtensionKey(key string) bool {
	return strings.HasPrefix(strings.ToLower(key), "urn:") && key != SchemaUser
}

// ListResponse is the result of a search
type ListResponse struct {
	Schemas      []string `json:"schemas,omitempty"`
	TotalResults int      `json:"totalResults"`
	ItemsPerPage int      `json:"itemsPerPage,omitempty"`
	StartIndex   int      `json:"startIndex,omitempty"`
	Resources    []*User  `json:"Resources"`
}
