package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/target/inkwell/internal/domain/newsletter"
	"github.com/target/inkwell/internal/service"
)

// EditorHandlers expose issue editing, previews and first-issue creation.
type EditorHandlers struct {
	Svc *service.EditorService
}

type saveIssueRequest struct {
	UserID  string          `json:"userId"`
	Content json.RawMessage `json:"content"`
}

// SaveIssue handles PUT /api/issues/{id}/content.
func (h *EditorHandlers) SaveIssue(w http.ResponseWriter, r *http.Request) {
	var req saveIssueRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	issue, err := h.Svc.SaveIssue(r.Context(), service.SaveIssueParams{
		IssueID: pathID(r, "id"),
		UserID:  req.UserID,
		Content: req.Content,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, issue)
}

type previewRequest struct {
	UserID    string                      `json:"userId"`
	Overrides newsletter.PreviewOverrides `json:"overrides"`
}

// Preview handles POST /api/ai/preview.
func (h *EditorHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	res, err := h.Svc.Preview(r.Context(), service.PreviewParams{UserID: req.UserID, Overrides: req.Overrides})
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

type firstIssueRequest struct {
	ToEmail string `json:"toEmail"`
}

type firstIssueResponse struct {
	IssueID    string `json:"issueId"`
	DeliveryID string `json:"deliveryId"`
	JobID      string `json:"jobId"`
}

// CreateFirstIssue handles POST /api/users/{userId}/first-issue.
func (h *EditorHandlers) CreateFirstIssue(w http.ResponseWriter, r *http.Request) {
	var req firstIssueRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	created, err := h.Svc.CreateFirstIssue(r.Context(), pathID(r, "userId"), req.ToEmail)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, firstIssueResponse{
		IssueID:    created.Issue.ID,
		DeliveryID: created.Delivery.ID,
		JobID:      created.Job.ID,
	})
}
