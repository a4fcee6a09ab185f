package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/doctor-appointment-assistant/internal/booking"
	"github.com/wolfman30/doctor-appointment-assistant/internal/observability/metrics"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

var sampleRequest = booking.AppointmentRequest{
	PatientName: "Ali Raza",
	DoctorName:  "Dr. Ahmed",
	Date:        "Saturday",
	Time:        "11:00 AM",
}

func TestNotifyDoctorSuccess(t *testing.T) {
	var (
		calls   int
		payload map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(srv.URL, logging.Default(), WithMetrics(metrics.NewAssistantMetrics(prometheus.NewRegistry())))
	require.NoError(t, err)

	out := n.NotifyDoctor(context.Background(), sampleRequest)
	assert.True(t, out.OK())
	assert.Equal(t, MsgNotified, out.Message)
	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]string{
		"patient_name": "Ali Raza",
		"doctor_name":  "Dr. Ahmed",
		"date":         "Saturday",
		"time":         "11:00 AM",
	}, payload)
}

func TestNotifyDoctorNon200IsRejectedWithoutRetry(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusBadRequest, http.StatusInternalServerError} {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(status)
		}))

		n, err := NewWebhookNotifier(srv.URL, nil)
		require.NoError(t, err)
		out := n.NotifyDoctor(context.Background(), sampleRequest)
		srv.Close()

		assert.Equal(t, booking.OutcomeRemoteRejected, out.Kind, "status %d", status)
		assert.Equal(t, status, out.StatusCode)
		assert.True(t, booking.IsFailureMessage(out.Message))
		assert.Contains(t, out.Message, "status code")
		assert.Contains(t, out.Message, strconv.Itoa(status))
		assert.Equal(t, 1, calls, "webhook must be called exactly once")
	}
}

func TestNotifyDoctorTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	n, err := NewWebhookNotifier(url, nil, WithTimeout(2*time.Second))
	require.NoError(t, err)
	out := n.NotifyDoctor(context.Background(), sampleRequest)
	assert.Equal(t, booking.OutcomeTransportFailure, out.Kind)
	assert.Contains(t, out.Message, "Webhook error")
	assert.Contains(t, out.Message, strings.TrimPrefix(url, "http://"))
	assert.Contains(t, out.Message, "connection refused")
	assert.ErrorIs(t, out.Err(), booking.ErrTransportFailure)
}

func TestNotifyDoctorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhookNotifier(srv.URL, nil, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	out := n.NotifyDoctor(context.Background(), sampleRequest)
	assert.Equal(t, booking.OutcomeTransportFailure, out.Kind)
}

func TestNewWebhookNotifierRequiresURL(t *testing.T) {
	_, err := NewWebhookNotifier("  ", nil)
	require.Error(t, err)
}
