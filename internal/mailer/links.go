package mailer

import (
	"context"
	"fmt"
	"strings"
)

// LinkMailer composes and sends the verification and password-reset link
// emails. The uid/token pair comes from the token package; this type only
// knows how to turn it into a URL under the public base URL and deliver it.
type LinkMailer struct {
	mailer  Mailer
	baseURL string
}

// NewLinkMailer creates a LinkMailer sending through the given Mailer.
func NewLinkMailer(mailer Mailer, baseURL string) *LinkMailer {
	return &LinkMailer{
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// SendVerificationLink mails the email-verification link to the given address.
func (l *LinkMailer) SendVerificationLink(ctx context.Context, email, uid, token string) error {
	link := fmt.Sprintf("%s/users/verify_email/%s/%s/", l.baseURL, uid, token)
	body := fmt.Sprintf("Click on this link to verify your email %s", link)
	return l.mailer.SendMail(ctx, []string{email}, "Verify your email with this link!", body)
}

// SendPasswordResetLink mails the password-reset link to the given address.
func (l *LinkMailer) SendPasswordResetLink(ctx context.Context, email, uid, token string) error {
	link := fmt.Sprintf("%s/users/reset_password/%s/%s/", l.baseURL, uid, token)
	body := fmt.Sprintf("Click on this link to reset your password %s", link)
	return l.mailer.SendMail(ctx, []string{email}, "Reset your password with this link!", body)
}
