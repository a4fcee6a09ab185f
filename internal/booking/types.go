// Package booking holds the appointment types shared by the doctor notifier,
// the local appointment record and the conversation agent.
package booking

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Markers prefix every user-visible tool outcome so replies stay parseable.
const (
	SuccessMarker = "✅"
	FailureMarker = "❌"
)

// Reply vocabulary the agent is instructed to use.
const (
	MsgBooked            = SuccessMarker + " Appointment booked successfully."
	MsgDoctorUnavailable = FailureMarker + " Doctor not available at this time."
	MsgConfirmFailed     = FailureMarker + " Patient confirmation failed."
)

var (
	// ErrValidationGap marks a missing or invalid appointment field. The agent
	// handles it conversationally instead of failing the turn.
	ErrValidationGap = errors.New("booking: missing or invalid appointment field")
	// ErrRemoteRejected marks a webhook answer other than 200.
	ErrRemoteRejected = errors.New("booking: doctor webhook rejected the request")
	// ErrTransportFailure marks a network failure while calling the webhook.
	ErrTransportFailure = errors.New("booking: doctor webhook transport failure")
	// ErrPersistFailure marks a failed write of the local appointment record.
	ErrPersistFailure = errors.New("booking: appointment record not persisted")
)

// AppointmentRequest is the set of fields gathered from the conversation.
// Values are free-form strings; only presence and length are enforced here.
type AppointmentRequest struct {
	PatientName string `json:"patient_name" validate:"required,max=120"`
	DoctorName  string `json:"doctor_name" validate:"required,max=120"`
	Date        string `json:"date" validate:"required,max=64"`
	Time        string `json:"time" validate:"required,max=64"`
}

// Normalized returns a copy with surrounding whitespace removed.
func (r AppointmentRequest) Normalized() AppointmentRequest {
	return AppointmentRequest{
		PatientName: strings.TrimSpace(r.PatientName),
		DoctorName:  strings.TrimSpace(r.DoctorName),
		Date:        strings.TrimSpace(r.Date),
		Time:        strings.TrimSpace(r.Time),
	}
}

// Key identifies a request for de-duplication within a turn.
func (r AppointmentRequest) Key() string {
	n := r.Normalized()
	return strings.ToLower(strings.Join([]string{n.PatientName, n.DoctorName, n.Date, n.Time}, "|"))
}

// Record converts the request into its persisted form.
func (r AppointmentRequest) Record() Record {
	n := r.Normalized()
	return Record{Patient: n.PatientName, Doctor: n.DoctorName, Date: n.Date, Time: n.Time}
}

// Record is one persisted appointment. The JSON shape matches appointments.json.
type Record struct {
	Patient string `json:"patient"`
	Doctor  string `json:"doctor"`
	Date    string `json:"date"`
	Time    string `json:"time"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks that all four fields are present. The returned error wraps
// ErrValidationGap and names the offending fields.
func (r AppointmentRequest) Validate() error {
	err := validatorInstance().Struct(r.Normalized())
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidationGap, err)
	}
	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		missing = append(missing, fieldLabel(fe.Field())+" ("+fe.Tag()+")")
	}
	return fmt.Errorf("%w: %s", ErrValidationGap, strings.Join(missing, ", "))
}

func fieldLabel(field string) string {
	switch field {
	case "PatientName":
		return "patient name"
	case "DoctorName":
		return "doctor name"
	case "Date":
		return "date"
	case "Time":
		return "time"
	default:
		return strings.ToLower(field)
	}
}
