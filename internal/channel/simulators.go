package channel

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// minPhoneLength is the shortest phone number the SMS channel accepts.
const minPhoneLength = 10

func validatePhone(phone string) (Result, bool) {
	if phone == "" {
		return Failure("No phone number provided"), false
	}
	if len(phone) < minPhoneLength {
		return Failure("Invalid phone number"), false
	}
	return Result{}, true
}

func validateEmail(email string) (Result, bool) {
	if email == "" {
		return Failure("No email provided"), false
	}
	if !strings.Contains(email, "@") {
		return Failure("Invalid email address"), false
	}
	return Result{}, true
}

func validateDeviceToken(token string) (Result, bool) {
	if token == "" {
		return Failure("No device token provided"), false
	}
	return Result{}, true
}

// SMSSimulator accepts any phone number of at least ten characters.
type SMSSimulator struct {
	logger *zap.Logger
}

func NewSMSSimulator(logger *zap.Logger) *SMSSimulator {
	return &SMSSimulator{logger: logger}
}

func (s *SMSSimulator) Kind() Kind { return KindSMS }

func (s *SMSSimulator) Send(ctx context.Context, phone, message string) Result {
	if res, ok := validatePhone(phone); !ok {
		return res
	}
	s.logger.Debug("simulated sms delivery", zap.Int("message_len", len(message)))
	return Success("SMS delivered")
}

// EmailSimulator accepts any address containing an "@".
type EmailSimulator struct {
	logger *zap.Logger
}

func NewEmailSimulator(logger *zap.Logger) *EmailSimulator {
	return &EmailSimulator{logger: logger}
}

func (s *EmailSimulator) Kind() Kind { return KindEmail }

func (s *EmailSimulator) Send(ctx context.Context, email, message string) Result {
	if res, ok := validateEmail(email); !ok {
		return res
	}
	s.logger.Debug("simulated email delivery", zap.Int("message_len", len(message)))
	return Success("Email delivered")
}

// PushSimulator succeeds whenever a device token is present.
type PushSimulator struct {
	logger *zap.Logger
}

func NewPushSimulator(logger *zap.Logger) *PushSimulator {
	return &PushSimulator{logger: logger}
}

func (s *PushSimulator) Kind() Kind { return KindPush }

func (s *PushSimulator) Send(ctx context.Context, token, message string) Result {
	if res, ok := validateDeviceToken(token); !ok {
		return res
	}
	s.logger.Debug("simulated push delivery", zap.Int("message_len", len(message)))
	return Success("Push delivered")
}

// InboxSimulator always stores the message.
type InboxSimulator struct {
	logger *zap.Logger
}

func NewInboxSimulator(logger *zap.Logger) *InboxSimulator {
	return &InboxSimulator{logger: logger}
}

func (s *InboxSimulator) Kind() Kind { return KindInbox }

func (s *InboxSimulator) Send(ctx context.Context, userID, message string) Result {
	s.logger.Debug("simulated inbox delivery", zap.String("user_id", userID))
	return Success(inboxStoredReason)
}

const inboxStoredReason = "Stored in secure inbox"

// Simulators returns one simulated adapter per channel kind.
func Simulators(logger *zap.Logger) []Adapter {
	return []Adapter{
		NewSMSSimulator(logger),
		NewEmailSimulator(logger),
		NewPushSimulator(logger),
		NewInboxSimulator(logger),
	}
}
