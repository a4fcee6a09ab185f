package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
	"github.com/wolfman30/doctor-appointment-assistant/internal/directory"
	"github.com/wolfman30/doctor-appointment-assistant/internal/notify"
)

// Tool names exposed to the model.
const (
	ToolGetDoctors        = "get_doctors"
	ToolSendDoctorRequest = "send_doctor_request"
	ToolConfirmPatient    = "confirm_patient"
)

// ToolParam describes one string argument of a tool.
type ToolParam struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolSpec describes how a tool is presented to the model.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ToolParam `json:"parameters,omitempty"`
	// Booking marks tools that act on an appointment request. They run behind
	// the booking guard and are de-duplicated within a turn.
	Booking bool `json:"-"`
}

// Tool is a named capability the model may invoke.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// ToolCatalog is an ordered, fixed set of tools with lookup by name.
type ToolCatalog struct {
	order []string
	tools map[string]Tool
}

func NewToolCatalog(tools ...Tool) (*ToolCatalog, error) {
	c := &ToolCatalog{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *ToolCatalog) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("conversation: nil tool")
	}
	name := t.Spec().Name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("conversation: tool name is required")
	}
	if _, dup := c.tools[name]; dup {
		return fmt.Errorf("conversation: tool %q already registered", name)
	}
	c.tools[name] = t
	c.order = append(c.order, name)
	return nil
}

func (c *ToolCatalog) Lookup(name string) (Tool, ToolSpec, bool) {
	t, ok := c.tools[strings.TrimSpace(name)]
	if !ok {
		return nil, ToolSpec{}, false
	}
	return t, t.Spec(), true
}

func (c *ToolCatalog) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(c.order))
	for _, name := range c.order {
		specs = append(specs, c.tools[name].Spec())
	}
	return specs
}

func (c *ToolCatalog) Names() []string {
	return append([]string(nil), c.order...)
}

var appointmentParams = []ToolParam{
	{Name: "patient_name", Description: "patient's full name"},
	{Name: "doctor_name", Description: "doctor's name exactly as listed by get_doctors"},
	{Name: "date", Description: "appointment date or weekday"},
	{Name: "time", Description: "appointment time, e.g. 11:00 AM"},
}

type getDoctorsTool struct {
	dir *directory.Directory
}

func (t getDoctorsTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        ToolGetDoctors,
		Description: "Returns every doctor with their specialty and weekly availability windows.",
	}
}

func (t getDoctorsTool) Invoke(context.Context, map[string]any) (string, error) {
	return t.dir.Snapshot()
}

type sendDoctorRequestTool struct {
	notifier notify.DoctorNotifier
}

func (t sendDoctorRequestTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        ToolSendDoctorRequest,
		Description: "Notifies the doctor about a new appointment request. Call once all four details are known and valid.",
		Parameters:  appointmentParams,
		Booking:     true,
	}
}

func (t sendDoctorRequestTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return t.notifier.NotifyDoctor(ctx, AppointmentFromArgs(args)).Message, nil
}

// Confirmer is the patient confirmation step (records the appointment).
type Confirmer interface {
	Confirm(ctx context.Context, req booking.AppointmentRequest) string
}

type confirmPatientTool struct {
	confirmer Confirmer
}

func (t confirmPatientTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        ToolConfirmPatient,
		Description: "Confirms the appointment to the patient and records it. Call after send_doctor_request.",
		Parameters:  appointmentParams,
		Booking:     true,
	}
}

func (t confirmPatientTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	return t.confirmer.Confirm(ctx, AppointmentFromArgs(args)), nil
}

// DefaultTools builds the three booking tools in presentation order.
func DefaultTools(dir *directory.Directory, notifier notify.DoctorNotifier, confirmer Confirmer) (*ToolCatalog, error) {
	if dir == nil || notifier == nil || confirmer == nil {
		return nil, fmt.Errorf("conversation: directory, notifier and confirmer are required")
	}
	return NewToolCatalog(
		getDoctorsTool{dir: dir},
		sendDoctorRequestTool{notifier: notifier},
		confirmPatientTool{confirmer: confirmer},
	)
}

// AppointmentFromArgs reads the appointment fields from decoded tool arguments.
func AppointmentFromArgs(args map[string]any) booking.AppointmentRequest {
	return booking.AppointmentRequest{
		PatientName: stringArg(args, "patient_name"),
		DoctorName:  stringArg(args, "doctor_name"),
		Date:        stringArg(args, "date"),
		Time:        stringArg(args, "time"),
	}.Normalized()
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
