package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailTransport mails every notification to the staff inbox over
// unauthenticated SMTP, which is what local relays such as Mailpit accept.
type EmailTransport struct {
	addr     string
	from     string
	to       []string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailTransport(host, port, from string, to []string) *EmailTransport {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "queue@barberqueue.local"
	}
	return &EmailTransport{
		addr:     strings.TrimSpace(host) + ":" + strings.TrimSpace(port),
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

func (e *EmailTransport) Send(ctx context.Context, n Notification) error {
	if len(e.to) == 0 {
		return errors.New("email transport has no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.sendMail(e.addr, nil, e.from, e.to, []byte(buildMessage(e.from, e.to, n)))
}

func buildMessage(from string, to []string, n Notification) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nX-Queue-Tag: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		strings.Join(to, ", "),
		n.Title,
		n.Tag,
		n.Body,
	)
}
