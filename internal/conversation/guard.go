package conversation

import (
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
	"github.com/wolfman30/doctor-appointment-assistant/internal/directory"
)

const msgClarify = booking.FailureMarker + " I need a bit more detail before booking:"

// guard checks a booking request against the directory before any side
// effect runs. It returns the refusal text and false when the request must
// not proceed.
func (a *Agent) guard(req booking.AppointmentRequest, now time.Time) (string, bool) {
	if err := req.Validate(); err != nil {
		return msgClarify + " " + detail(err) + ". Ask the patient for the missing details.", false
	}
	_, err := a.directory.CheckAvailability(req.DoctorName, req.Date, req.Time, now)
	switch {
	case err == nil:
		return "", true
	case errors.Is(err, booking.ErrValidationGap):
		return msgClarify + " " + detail(err) + ". Ask the patient to clarify.", false
	case errors.Is(err, directory.ErrUnknownDoctor),
		errors.Is(err, directory.ErrDayUnavailable),
		errors.Is(err, directory.ErrTimeUnavailable):
		return booking.MsgDoctorUnavailable + " " + detail(err) + ".", false
	default:
		return booking.MsgDoctorUnavailable, false
	}
}

// detail strips package prefixes from an error chain for display.
func detail(err error) string {
	s := err.Error()
	for _, prefix := range []string{"directory: ", "booking: "} {
		s = strings.ReplaceAll(s, prefix, "")
	}
	return strings.TrimSpace(s)
}
