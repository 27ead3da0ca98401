package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/tech-arch1tect/twofactor/services/logging"
	"go.uber.org/zap"
)

const verificationTemplate = "verification_code"

type Mailer interface {
	SendTemplate(ctx context.Context, templateName string, to []string, subject string, data map[string]any) error
}

type EmailNotifier struct {
	mailer    Mailer
	directory Directory
	appName   string
	subject   string
	now       func() time.Time
	logger    *logging.Service
}

func NewEmailNotifier(mailer Mailer, directory Directory, appName, subject string, logger *logging.Service) *EmailNotifier {
	return &EmailNotifier{
		mailer:    mailer,
		directory: directory,
		appName:   appName,
		subject:   subject,
		now:       time.Now,
		logger:    logger,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, principalID, code string, expiresAt time.Time) error {
	contact, err := n.directory.Lookup(ctx, principalID)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("cannot deliver verification code - contact lookup failed",
				zap.Error(err),
				zap.String("principal_id", principalID))
		}
		return err
	}
	if contact.Email == "" {
		if n.logger != nil {
			n.logger.Warn("cannot deliver verification code - no email address",
				zap.String("principal_id", principalID))
		}
		return fmt.Errorf("%w: email", ErrNoAddress)
	}

	data := map[string]any{
		"AppName":   n.appName,
		"Code":      code,
		"ExpiresIn": formatRemaining(expiresAt.Sub(n.now())),
		"ExpiresAt": expiresAt.UTC().Format("15:04 MST"),
	}

	if err := n.mailer.SendTemplate(ctx, verificationTemplate, []string{contact.Email}, n.subject, data); err != nil {
		if n.logger != nil {
			n.logger.Error("failed to email verification code",
				zap.Error(err),
				zap.String("principal_id", principalID))
		}
		return fmt.Errorf("failed to email verification code: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("verification code emailed",
			zap.String("principal_id", principalID))
	}
	return nil
}
