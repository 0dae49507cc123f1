package selfservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-selfservice/mailer"
	"github.com/goliatone/go-selfservice/scim"
)

// Logger is satisfied by glog loggers. Args are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// UserService is the slice of the SCIM API the self service flows use
type UserService interface {
	SearchUsers(ctx context.Context, query scim.Query) (*scim.ListResponse, error)
	SearchAllUsers(ctx context.Context, query scim.Query) ([]*scim.User, error)
	GetUser(ctx context.Context, id string) (*scim.User, error)
	CreateUser(ctx context.Context, user *scim.User) (*scim.User, error)
	PatchUser(ctx context.Context, id string, patch *scim.PatchRequest) (*scim.User, error)
}

// EmailSender delivers rendered emails
type EmailSender = mailer.Sender

var _ UserService = (*scim.Client)(nil)

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] SELFSERVICE " + line(msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] SELFSERVICE " + line(msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] SELFSERVICE " + line(msg, args))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] SELFSERVICE " + line(msg, args))
}

func line(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteString("\n")
	return b.String()
}

func loggerOrDefault(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
