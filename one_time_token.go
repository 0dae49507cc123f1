package selfservice

import (
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tokenSeparator = ":"

// OneTimeToken is a random token stored in a user extension field
// together with the moment it was issued
type OneTimeToken struct {
	Token    string
	IssuedAt time.Time
}

// NewOneTimeToken issues a fresh token
func NewOneTimeToken() OneTimeToken {
	return OneTimeToken{
		Token:    uuid.NewString(),
		IssuedAt: time.Now(),
	}
}

// ParseOneTimeToken reads the stored "<token>:<unix millis>" form. A value
// without timestamp is considered issued at the epoch.
func ParseOneTimeToken(value string) OneTimeToken {
	value = strings.TrimSpace(value)

	i := strings.LastIndex(value, tokenSeparator)
	if i < 0 {
		return OneTimeToken{Token: value, IssuedAt: time.UnixMilli(0)}
	}

	millis, err := strconv.ParseInt(value[i+1:], 10, 64)
	if err != nil {
		return OneTimeToken{Token: value, IssuedAt: time.UnixMilli(0)}
	}

	return OneTimeToken{
		Token:    value[:i],
		IssuedAt: time.UnixMilli(millis),
	}
}

// String returns the stored form
func (t OneTimeToken) String() string {
	return t.Token + tokenSeparator + strconv.FormatInt(t.IssuedAt.UnixMilli(), 10)
}

// IsExpired reports whether more than timeout passed since issue.
// Non positive timeouts never expire.
func (t OneTimeToken) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return time.Since(t.IssuedAt) > timeout
}

// Matches compares the token part only
func (t OneTimeToken) Matches(token string) bool {
	if t.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1
}
