package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/mailgun/mailgun-go/v4/events"

	"github.com/target/inkwell/internal/service"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SignatureVerifier checks a Mailgun webhook signature. *mailgun.MailgunImpl
// with a signing key satisfies it.
type SignatureVerifier interface {
	VerifyWebhookSignature(sig mailgun.Signature) (bool, error)
}

// WebhookHandlers receive Mailgun event webhooks.
type WebhookHandlers struct {
	Svc *service.DeliveryEventService
	// Verifier checks payload signatures. Nil disables verification.
	Verifier SignatureVerifier
	// Tolerance is the maximum accepted signature age.
	Tolerance time.Duration
	Clock     Clock
	Logger    *slog.Logger
}

var (
	errBadSignature   = errors.New("webhook signature mismatch")
	errStaleSignature = errors.New("webhook timestamp outside tolerance")
)

// EmailEvent handles POST /webhooks/email.
func (h *WebhookHandlers) EmailEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_body", Err: err})
		return
	}

	var payload mailgun.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return
	}

	if err := h.verify(payload.Signature); err != nil {
		h.Logger.WarnContext(r.Context(), "webhook rejected", "error", err)
		WriteError(w, ErrorParams{Code: http.StatusUnauthorized, ErrCode: "unauthorized", Err: err})
		return
	}

	ev, err := decodeEvent(payload.EventData)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return
	}

	res, err := h.Svc.Record(r.Context(), ev)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "record webhook event failed", "event", ev.Event, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "internal",
			Err:     errors.New("unable to record event"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"received": true, "outcome": res.Outcome})
}

func (h *WebhookHandlers) verify(sig mailgun.Signature) error {
	if h.Verifier == nil {
		return nil
	}
	ts, err := strconv.ParseInt(sig.TimeStamp, 10, 64)
	if err != nil {
		return errBadSignature
	}
	if h.Tolerance > 0 {
		age := h.clock().Now().Sub(time.Unix(ts, 0))
		if age > h.Tolerance || age < -h.Tolerance {
			return errStaleSignature
		}
	}
	ok, err := h.Verifier.VerifyWebhookSignature(sig)
	if err != nil || !ok {
		return errBadSignature
	}
	return nil
}

func (h *WebhookHandlers) clock() Clock {
	if h.Clock == nil {
		return systemClock{}
	}
	return h.Clock
}

// decodeEvent maps Mailgun event-data onto a service.DeliveryEvent. Delivery
// and issue ids travel as user variables set at send time.
func decodeEvent(data map[string]any) (service.DeliveryEvent, error) {
	if len(data) == 0 {
		return service.DeliveryEvent{}, errors.New("event-data is missing")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return service.DeliveryEvent{}, fmt.Errorf("encode event-data: %w", err)
	}
	parsed, err := mailgun.ParseEvent(raw)
	if err != nil {
		return service.DeliveryEvent{}, fmt.Errorf("event-data: %w", err)
	}

	ev := service.DeliveryEvent{
		Event: parsed.GetName(),
		Meta:  raw,
	}
	// Mailgun sends float seconds; rounding drops the float64 conversion error.
	if at := parsed.GetTimestamp(); at.Unix() > 0 {
		ev.OccurredAt = at.Round(time.Microsecond).UTC()
	}
	switch e := parsed.(type) {
	case *events.Failed:
		ev.Severity = e.Severity
		ev.MessageID = e.Message.Headers.MessageID
	case *events.Delivered:
		ev.MessageID = e.Message.Headers.MessageID
	case *events.Opened:
		ev.MessageID = e.Message.Headers.MessageID
	case *events.Complained:
		ev.MessageID = e.Message.Headers.MessageID
	}

	vars, _ := data["user-variables"].(map[string]any)
	ev.IssueID = stringVar(vars, service.VarIssueID)
	ev.DeliveryID = stringVar(vars, service.VarDeliveryID)
	return ev, nil
}

func stringVar(vars map[string]any, key string) string {
	if v, ok := vars[key].(string); ok {
		return v
	}
	return ""
}
