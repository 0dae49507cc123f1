package selfservice

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-selfservice/mailer"
	"github.com/goliatone/go-selfservice/scim"
	"golang.org/x/text/language"
)

const (
	subjectExt = ".subject"
	htmlExt    = ".html"
	textExt    = ".txt"
)

// RenderedEmail holds the output of a template set
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// EmailRenderer renders "<name>.subject", "<name>.html" and "<name>.txt"
// templates. Localized variants are named "<name>_<lang>.<ext>".
type EmailRenderer struct {
	fsys  fs.FS
	mu    sync.RWMutex
	cache map[string]*pongo2.Template
}

// NewEmailRenderer uses the embedded templates when fsys is nil
func NewEmailRenderer(fsys fs.FS) *EmailRenderer {
	if fsys == nil {
		fsys = GetMailTemplatesFS()
	}
	return &EmailRenderer{
		fsys:  fsys,
		cache: map[string]*pongo2.Template{},
	}
}

// Render executes the template set for the given locale
func (r *EmailRenderer) Render(name string, locale language.Tag, data map[string]any) (RenderedEmail, error) {
	out := RenderedEmail{}
	ctx := pongo2.Context(data)

	subject, err := r.execute(name, subjectExt, locale, ctx)
	if err != nil {
		return out, err
	}
	out.Subject = strings.TrimSpace(subject)

	if out.HTML, err = r.execute(name, htmlExt, locale, ctx); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return out, err
	}

	if out.Text, err = r.execute(name, textExt, locale, ctx); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return out, err
	}

	if out.HTML == "" && out.Text == "" {
		return out, goerrors.New("email template has no body", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"template": name})
	}

	return out, nil
}

func (r *EmailRenderer) execute(name, ext string, locale language.Tag, ctx pongo2.Context) (string, error) {
	tpl, err := r.lookup(name, ext, locale)
	if err != nil {
		return "", err
	}
	return tpl.Execute(ctx)
}

func (r *EmailRenderer) lookup(name, ext string, locale language.Tag) (*pongo2.Template, error) {
	for _, candidate := range templateCandidates(name, ext, locale) {
		r.mu.RLock()
		tpl, ok := r.cache[candidate]
		r.mu.RUnlock()
		if ok {
			return tpl, nil
		}

		src, err := fs.ReadFile(r.fsys, candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}

		tpl, err = pongo2.FromBytes(src)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to parse email template").
				WithMetadata(map[string]any{"template": candidate})
		}

		r.mu.Lock()
		r.cache[candidate] = tpl
		r.mu.Unlock()

		return tpl, nil
	}

	return nil, fs.ErrNotExist
}

func templateCandidates(name, ext string, locale language.Tag) []string {
	candidates := make([]string, 0, 3)
	if locale != language.Und {
		full := strings.ReplaceAll(locale.String(), "-", "_")
		candidates = append(candidates, name+"_"+full+ext)
		if base, conf := locale.Base(); conf != language.No && base.String() != full {
			candidates = append(candidates, name+"_"+base.String()+ext)
		}
	}
	return append(candidates, name+ext)
}

// LocaleFromString accepts "de", "de_DE" or "de-DE", defaulting to English
func LocaleFromString(locale string) language.Tag {
	locale = strings.TrimSpace(strings.ReplaceAll(locale, "_", "-"))
	if locale == "" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	return tag
}

// CreateLinkForEmail appends the user id and token to base
func CreateLinkForEmail(base, userID, param, token string) string {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set(param, token)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// EmailComposer renders templates and hands messages to the sender
type EmailComposer struct {
	From     string
	Renderer *EmailRenderer
	Sender   EmailSender
}

// Send renders the named template for the user and delivers it to the
// primary (or first) email address
func (c *EmailComposer) Send(ctx context.Context, name string, user *scim.User, data map[string]any) error {
	email, ok := user.PrimaryOrFirstEmail()
	if !ok || email.Value == "" {
		return goerrors.New("could not send email, user has no email address", goerrors.CategoryValidation).
			WithTextCode(TextCodeRegistrationNoEmail).
			WithMetadata(map[string]any{"user_name": user.UserName})
	}

	locale := LocaleFromString(user.Locale)
	rendered, err := c.Renderer.Render(name, locale, data)
	if err != nil {
		return err
	}

	return c.Sender.Send(ctx, mailer.Message{
		From:    c.From,
		To:      []string{email.Value},
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
	})
}
