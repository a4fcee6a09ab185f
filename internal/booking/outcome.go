package booking

import (
	"fmt"
	"strings"
)

// OutcomeKind classifies the result of a side-effecting booking step.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeRemoteRejected   OutcomeKind = "remote_rejected"
	OutcomeTransportFailure OutcomeKind = "transport_failure"
	OutcomePersistFailure   OutcomeKind = "persist_failure"
)

// Outcome is returned by the notifier and the appointment store instead of an
// error. Failures are non-fatal; Message is safe to show to the patient.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Message    string
}

// Success builds a success outcome with the given message.
func Success(message string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Message: message}
}

// RemoteRejected builds the outcome for a non-200 webhook answer.
func RemoteRejected(status int) Outcome {
	return Outcome{
		Kind:       OutcomeRemoteRejected,
		StatusCode: status,
		Message:    fmt.Sprintf("%s Doctor notification failed (status code %d)", FailureMarker, status),
	}
}

// TransportFailure builds the outcome for a webhook call that never got an answer.
func TransportFailure(err error) Outcome {
	return Outcome{
		Kind:    OutcomeTransportFailure,
		Message: fmt.Sprintf("%s Webhook error: %s", FailureMarker, errText(err)),
	}
}

// PersistFailure builds the outcome for a failed local write.
func PersistFailure(err error) Outcome {
	return Outcome{
		Kind:    OutcomePersistFailure,
		Message: fmt.Sprintf("%s Failed to save appointment: %s", FailureMarker, errText(err)),
	}
}

// OK reports whether the step succeeded.
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Err maps the outcome onto the error taxonomy, or nil on success.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeRemoteRejected:
		return fmt.Errorf("%w: status %d", ErrRemoteRejected, o.StatusCode)
	case OutcomeTransportFailure:
		return fmt.Errorf("%w: %s", ErrTransportFailure, o.Message)
	case OutcomePersistFailure:
		return fmt.Errorf("%w: %s", ErrPersistFailure, o.Message)
	default:
		return fmt.Errorf("booking: unknown outcome %q", o.Kind)
	}
}

func (o Outcome) String() string {
	return o.Message
}

// IsSuccessMessage reports whether a user-visible string carries the success marker.
func IsSuccessMessage(msg string) bool {
	return strings.HasPrefix(strings.TrimSpace(msg), SuccessMarker)
}

// IsFailureMessage reports whether a user-visible string carries the failure marker.
func IsFailureMessage(msg string) bool {
	return strings.HasPrefix(strings.TrimSpace(msg), FailureMarker)
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
