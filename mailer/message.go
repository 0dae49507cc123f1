package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNoRecipients is returned for messages without a To address
var ErrNoRecipients = errors.New("mailer: message has no recipients")

// Sender delivers messages
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(ctx context.Context, msg Message) error

// Send implements Sender
func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Message is a rendered email
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Validate checks addresses are well formed
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	if _, err := mail.ParseAddress(m.From); err != nil {
		return fmt.Errorf("mailer: invalid from address %q: %w", m.From, err)
	}
	for _, to := range m.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("mailer: invalid recipient %q: %w", to, err)
		}
	}
	return nil
}

// Bytes renders the message as RFC 5322 text with MIME bodies
func (m Message) Bytes() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeHeader(&buf, "From", m.From)
	writeHeader(&buf, "To", strings.Join(m.To, ", "))
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", m.Subject))
	writeHeader(&buf, "Date", time.Now().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(m.From)))
	writeHeader(&buf, "MIME-Version", "1.0")

	switch {
	case m.HTML != "" && m.Text != "":
		boundary := "selfservice-" + strings.ReplaceAll(uuid.NewString(), "-", "")
		writeHeader(&buf, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		buf.WriteString("\r\n")
		if err := writePart(&buf, boundary, "text/plain", m.Text); err != nil {
			return nil, err
		}
		if err := writePart(&buf, boundary, "text/html", m.HTML); err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	case m.HTML != "":
		if err := writeBody(&buf, "text/html", m.HTML); err != nil {
			return nil, err
		}
	default:
		if err := writeBody(&buf, "text/plain", m.Text); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeHeader(buf *bytes.Buffer, key, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", key, value)
}

func writePart(buf *bytes.Buffer, boundary, mediaType, body string) error {
	fmt.Fprintf(buf, "--%s\r\n", boundary)
	return writeBody(buf, mediaType, body)
}

func writeBody(buf *bytes.Buffer, mediaType, body string) error {
	writeHeader(buf, "Content-Type", mediaType+"; charset=utf-8")
	writeHeader(buf, "Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(buf)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	if err := qp.Close(); err != nil {
		return err
	}
	buf.WriteString("\r\n")
	return nil
}

func domainOf(address string) string {
	if addr, err := mail.ParseAddress(address); err == nil {
		address = addr.Address
	}
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return address[i+1:]
	}
	return "localhost"
}
