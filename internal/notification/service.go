package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/pkg/messaging"
)

// OverrideChannel is the broker channel compliance tooling subscribes to.
const OverrideChannel = "compliance.overrides"

type Config struct {
	EmailEnabled bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	EmailFrom    string
	Reviewers    []string
}

// Notifier alerts compliance reviewers that a break-the-glass grant
// needs review.
type Notifier interface {
	NotifyOverride(ctx context.Context, grant *model.EmergencyOverrideGrant) error
}

type service struct {
	broker messaging.Broker
	cfg    Config
	logger zerolog.Logger
}

func NewService(broker messaging.Broker, cfg Config, logger zerolog.Logger) Notifier {
	return &service{
		broker: broker,
		cfg:    cfg,
		logger: logger,
	}
}

// NotifyOverride enqueues the grant for the compliance review queue and,
// when configured, mails the reviewer list. The broker enqueue is the
// notification of record; email is best-effort.
func (s *service) NotifyOverride(ctx context.Context, grant *model.EmergencyOverrideGrant) error {
	msg := messaging.Message{
		Type:    "break_the_glass",
		Payload: grant,
	}
	if err := s.broker.Publish(ctx, OverrideChannel, msg); err != nil {
		return fmt.Errorf("failed to enqueue override notification: %w", err)
	}

	if s.cfg.EmailEnabled && len(s.cfg.Reviewers) > 0 {
		if err := s.sendEmail(grant); err != nil {
			s.logger.Warn().
				Err(err).
				Str("grant_id", grant.ID.String()).
				Msg("failed to email compliance reviewers")
		}
	}

	return nil
}

func (s *service) sendEmail(grant *model.EmergencyOverrideGrant) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.EmailFrom)
	m.SetHeader("To", s.cfg.Reviewers...)
	m.SetHeader("Subject", fmt.Sprintf("Break-the-glass access by %s requires review", grant.PrincipalID))
	m.SetBody("text/plain", fmt.Sprintf(
		"Principal %s (%s) was granted emergency access to %s/%s.\n\nJustification: %s\n\nAccess window ends %s. Review is mandatory.",
		grant.PrincipalID,
		grant.PrincipalRole,
		grant.ResourceType,
		grant.ResourceID,
		grant.Justification,
		grant.ExpiresAt.Format("2006-01-02 15:04:05 MST"),
	))

	d := gomail.NewDialer(s.cfg.SMTPHost, s.cfg.SMTPPort, s.cfg.SMTPUser, s.cfg.SMTPPassword)
	return d.DialAndSend(m)
}
