package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bastion/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// webhookRecorder captures delivered alert payloads.
type webhookRecorder struct {
	mu       sync.Mutex
	received []core.SecurityAlert
	status   int
}

func (r *webhookRecorder) handler(w http.ResponseWriter, req *http.Request) {
	var alert core.SecurityAlert
	if err := json.NewDecoder(req.Body).Decode(&alert); err == nil {
		r.mu.Lock()
		r.received = append(r.received, alert)
		r.mu.Unlock()
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *webhookRecorder) Received() []core.SecurityAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.SecurityAlert, len(r.received))
	copy(out, r.received)
	return out
}

func testNotifier(t *testing.T, cfg Config) *Notifier {
	t.Helper()
	n, err := NewNotifier(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return n
}

// TestNotifier_DeliversAlertAsJSON verifies the webhook receives the
// alert payload.
func TestNotifier_DeliversAlertAsJSON(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := testNotifier(t, Config{Enabled: true, WebhookURL: srv.URL, MinSeverity: core.SeverityLow})
	n.Start()

	alert := core.NewSecurityAlert("brute-force-auth", core.ThreatBruteForceAuth)
	alert.SubjectID = "alice"
	n.Publish(alert)
	n.Stop()

	received := rec.Received()
	require.Len(t, received, 1)
	assert.Equal(t, alert.AlertID, received[0].AlertID)
	assert.Equal(t, core.ThreatBruteForceAuth, received[0].ThreatType)
	assert.Equal(t, "alice", received[0].SubjectID)
}

// TestNotifier_SeverityFloorFiltersAlerts verifies alerts below the
// configured floor are never delivered.
func TestNotifier_SeverityFloorFiltersAlerts(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := testNotifier(t, Config{Enabled: true, WebhookURL: srv.URL, MinSeverity: core.SeverityHigh})
	n.Start()

	low := core.NewSecurityAlert("resource-abuse", core.ThreatResourceAbuse) // medium severity
	high := core.NewSecurityAlert("session-hijack", core.ThreatSessionHijack)
	n.Publish(low)
	n.Publish(high)
	n.Stop()

	received := rec.Received()
	require.Len(t, received, 1)
	assert.Equal(t, high.AlertID, received[0].AlertID)
}

// TestNotifier_DisabledDropsEverything verifies a disabled notifier is a
// no-op that still accepts calls.
func TestNotifier_DisabledDropsEverything(t *testing.T) {
	n := testNotifier(t, Config{Enabled: false})
	n.Start()
	n.Publish(core.NewSecurityAlert("r", core.ThreatSessionHijack))
	n.Publish(nil)
	n.Stop()
}

// TestNotifier_BreakerSuppressesAfterRepeatedFailures verifies the
// circuit opens against a failing endpoint and stops delivery attempts.
func TestNotifier_BreakerSuppressesAfterRepeatedFailures(t *testing.T) {
	rec := &webhookRecorder{status: http.StatusInternalServerError}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	n := testNotifier(t, Config{
		Enabled:    true,
		WebhookURL: srv.URL,
		QueueSize:  16,
		Timeout:    time.Second,
	})
	n.Start()

	// The default breaker opens after 3 consecutive failures; the rest
	// must be suppressed without touching the endpoint.
	for i := 0; i < 10; i++ {
		n.Publish(core.NewSecurityAlert("r", core.ThreatSessionHijack))
	}
	n.Stop()

	assert.Len(t, rec.Received(), 3, "delivery attempts stop once the circuit opens")
}

// TestConfig_Validate covers configuration rejection.
func TestConfig_Validate(t *testing.T) {
	err := Config{Enabled: true, WebhookURL: "not-a-url"}.Validate()
	assert.ErrorIs(t, err, core.ErrConfigurationInvalid)

	err = Config{Enabled: true, WebhookURL: "https://hooks.example.com/x", MinSeverity: "urgent"}.Validate()
	assert.ErrorIs(t, err, core.ErrConfigurationInvalid)

	assert.NoError(t, Config{Enabled: false}.Validate())
	assert.NoError(t, Config{Enabled: true, WebhookURL: "https://hooks.example.com/x", MinSeverity: core.SeverityHigh}.Validate())
}
