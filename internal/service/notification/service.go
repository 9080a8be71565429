package notification

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/jwalitptl/health-ledger/internal/email"
	"github.com/jwalitptl/health-ledger/internal/model"
	"github.com/jwalitptl/health-ledger/pkg/logger"
)

// Directory resolves principals to their registered identity.
type Directory interface {
	GetUserProfile(p model.Principal) (model.Identity, bool)
}

// EventSource streams audit events in commit order.
type EventSource interface {
	Subscribe(ctx context.Context, from uint64) <-chan model.AuditEvent
}

// Notice is one outgoing mail.
type Notice struct {
	To      string
	Subject string
	Body    string
}

// Service mails patients and providers when consent or records affecting them
// change. Contacts that are not mail addresses are skipped.
type Service struct {
	directory Directory
	mailer    email.Service
	logger    *logger.Logger
}

func NewService(directory Directory, mailer email.Service, log *logger.Logger) *Service {
	return &Service{directory: directory, mailer: mailer, logger: log}
}

// Run follows source from offset from until ctx is cancelled.
func (s *Service) Run(ctx context.Context, source EventSource, from uint64) {
	s.logger.Info("Starting notifier", "from", from)
	for ev := range source.Subscribe(ctx, from) {
		for _, n := range s.Compose(ev) {
			if err := s.mailer.Send(ctx, n.To, n.Subject, n.Body); err != nil {
				s.logger.Error(err, "Failed to send notification", "seq", ev.Seq, "tag", string(ev.Tag))
			}
		}
	}
	s.logger.Info("Notifier stopped")
}

// Compose builds the mails for ev. Record content references never appear in
// them.
func (s *Service) Compose(ev model.AuditEvent) []Notice {
	var out []Notice
	add := func(p model.Principal, subject, body string) {
		if to, ok := s.address(p); ok {
			out = append(out, Notice{To: to, Subject: subject, Body: body})
		}
	}

	switch ev.Tag {
	case model.AuditUserRegistered:
		add(ev.Principal, "Welcome to the health ledger",
			fmt.Sprintf("Your account %s was registered on %s.", ev.Principal, ev.Timestamp.Format("2006-01-02")))

	case model.AuditAccessGranted:
		provider := s.name(ev.Provider)
		add(ev.Patient, "Access granted",
			fmt.Sprintf("You granted %s access to your health records.", provider))
		add(ev.Provider, "Access granted",
			fmt.Sprintf("%s granted you access to their health records.", s.name(ev.Patient)))

	case model.AuditAccessRevoked:
		add(ev.Patient, "Access revoked",
			fmt.Sprintf("You revoked %s's access to your health records.", s.name(ev.Provider)))
		add(ev.Provider, "Access revoked",
			fmt.Sprintf("%s revoked your access to their health records.", s.name(ev.Patient)))

	case model.AuditRecordCreated:
		add(ev.Patient, "New health record",
			fmt.Sprintf("%s added health record #%d to your file.", s.name(ev.Provider), recordID(ev)))

	case model.AuditRecordDeactivated:
		add(ev.Patient, "Health record deactivated",
			fmt.Sprintf("Health record #%d in your file was deactivated by the administrator.", recordID(ev)))
	}
	return out
}

func (s *Service) address(p model.Principal) (string, bool) {
	id, ok := s.directory.GetUserProfile(p)
	if !ok {
		return "", false
	}
	addr, err := mail.ParseAddress(id.Contact)
	if err != nil {
		return "", false
	}
	return addr.Address, true
}

func (s *Service) name(p model.Principal) string {
	if id, ok := s.directory.GetUserProfile(p); ok && id.Name != "" {
		return id.Name
	}
	return string(p)
}

func recordID(ev model.AuditEvent) uint64 {
	if ev.RecordID == nil {
		return 0
	}
	return *ev.RecordID
}
