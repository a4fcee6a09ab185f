package bookings

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
	"github.com/wolfman30/doctor-appointment-assistant/internal/observability/metrics"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

var bookingsTracer = otel.Tracer("doctorbot.internal.bookings")

// MsgRecorded is the outcome message of a successful local write.
const MsgRecorded = booking.SuccessMarker + " Appointment saved."

// Service records appointments and confirms them to the patient.
type Service struct {
	repo    Repository
	logger  *logging.Logger
	metrics *metrics.AssistantMetrics
}

// NewService constructs a bookings service.
func NewService(repo Repository, logger *logging.Logger, m *metrics.AssistantMetrics) *Service {
	if repo == nil {
		panic("bookings: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger, metrics: m}
}

// RecordAppointment appends the request to the local record. A failed write is
// reported as a PersistFailure outcome.
func (s *Service) RecordAppointment(ctx context.Context, req booking.AppointmentRequest) booking.Outcome {
	ctx, span := bookingsTracer.Start(ctx, "bookings.record")
	defer span.End()
	span.SetAttributes(attribute.String("doctorbot.doctor", req.DoctorName))

	if err := s.repo.Append(ctx, req.Record()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		s.metrics.ObserveStore(string(booking.OutcomePersistFailure))
		s.logger.Error("appointment not saved", "doctor", req.DoctorName, "error", err)
		return booking.PersistFailure(err)
	}
	s.metrics.ObserveStore(string(booking.OutcomeSuccess))
	s.logger.Info("appointment saved", "doctor", req.DoctorName, "date", req.Date, "time", req.Time)
	return booking.Success(MsgRecorded)
}

// Confirm is the patient confirmation step. Storage is best-effort: the patient
// is confirmed even when the local write fails, with a note appended.
func (s *Service) Confirm(ctx context.Context, req booking.AppointmentRequest) string {
	if err := req.Validate(); err != nil {
		return fmt.Sprintf("%s %v", booking.MsgConfirmFailed, err)
	}
	n := req.Normalized()
	msg := fmt.Sprintf("%s Hello %s, your appointment with %s is confirmed on %s at %s.",
		booking.SuccessMarker, n.PatientName, n.DoctorName, n.Date, n.Time)

	if out := s.RecordAppointment(ctx, n); !out.OK() {
		return msg + " (Note: the booking could not be saved locally: " + out.Message + ")"
	}
	return msg
}

// List returns every recorded appointment.
func (s *Service) List(ctx context.Context) ([]booking.Record, error) {
	return s.repo.List(ctx)
}
