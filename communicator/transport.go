package communicator

import "context"

// Message is the rendered payload handed to a Transport. The Communicator
// never speaks SMTP/chat protocols itself; e-mail and chat delivery are out
// of scope per this module's non-goals, so callers inject a real transport
// and tests inject a recording stub.
type Message struct {
	Kind        string
	Recipient   string
	Subject     string
	Body        string
	ContentType string
}

// Transport is the capability interface the Communicator is configured
// with. Send returns a provider-assigned message id on success.
type Transport interface {
	Send(ctx context.Context, msg Message) (providerMessageId string, err error)
}

// NullTransport discards every message and is useful for local/dev modes
// where no real e-mail/chat provider is configured.
type NullTransport struct{}

func (NullTransport) Send(ctx context.Context, msg Message) (string, error) {
	return "", nil
}

// RecordingTransport captures every message it is asked to send, for tests.
type RecordingTransport struct {
	Sent []Message
	Err  error
}

func (t *RecordingTransport) Send(ctx context.Context, msg Message) (string, error) {
	if t.Err != nil {
		return "", t.Err
	}
	t.Sent = append(t.Sent, msg)
	return "stub-" + msg.Recipient, nil
}
