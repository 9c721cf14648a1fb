package external

import (
	"log/slog"
)

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
// Used in local development where real processor signatures are unavailable.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: webhook Verify called",
		"payload_len", len(payload),
	)
	return nil
}

var _ WebhookVerifier = (*StubWebhookVerifier)(nil)
