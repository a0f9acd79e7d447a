// File: internal/infra/web/handlers.go
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pixelmint/internal/domain/model"
	"pixelmint/internal/infra/sched"
	"pixelmint/internal/usecase"
)

type createJobRequest struct {
	Kind         string         `json:"kind"`
	ModelVersion string         `json:"modelVersion"`
	Input        map[string]any `json:"input"`
	Credits      int            `json:"credits"`
}

type jobResponse struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	State         string     `json:"state"`
	ResultURLs    []string   `json:"resultUrls,omitempty"`
	ThumbnailURLs []string   `json:"thumbnailUrls,omitempty"`
	ErrorMessage  string     `json:"errorMessage,omitempty"`
	Credits       int        `json:"credits"`
	ETA           *time.Time `json:"eta,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func toJobResponse(j *model.Job) jobResponse {
	return jobResponse{
		ID:            j.ID,
		Kind:          string(j.Kind),
		State:         string(j.State),
		ResultURLs:    j.ResultURLs,
		ThumbnailURLs: j.ThumbnailURLs,
		ErrorMessage:  j.ErrorMessage,
		Credits:       j.CreditsReserved,
		ETA:           j.ETA,
		CreatedAt:     j.CreatedAt,
		CompletedAt:   j.CompletedAt,
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	kind := model.JobKind(req.Kind)
	switch kind {
	case model.JobKindImage, model.JobKindVideo, model.JobKindUpscale:
	default:
		http.Error(w, "Unknown job kind", http.StatusBadRequest)
		return
	}

	job, err := s.jobUC.Create(r.Context(), usecase.CreateJobSpec{
		OwnerID:      user.ID,
		Kind:         kind,
		ModelVersion: req.ModelVersion,
		Input:        req.Input,
		Credits:      req.Credits,
		WebhookURL:   s.webhookURL,
	})
	if err != nil {
		if job != nil {
			// Submission failed after the debit; the job exists in failed
			// state with credits already refunded.
			writeJSON(w, http.StatusBadGateway, toJobResponse(job))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	job, err := s.jobUC.Get(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	jobs, err := s.jobUC.ListForOwner(r.Context(), user.ID, 100)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	job, err := s.jobUC.Cancel(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	history, err := s.ledger.History(r.Context(), user.ID, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	type entry struct {
		ID           string    `json:"id"`
		Amount       int       `json:"amount"`
		Reason       string    `json:"reason"`
		JobID        string    `json:"jobId,omitempty"`
		BalanceAfter int       `json:"balanceAfter"`
		CreatedAt    time.Time `json:"createdAt"`
	}
	entries := make([]entry, 0, len(history))
	for _, t := range history {
		entries = append(entries, entry{
			ID:           t.ID,
			Amount:       t.Amount,
			Reason:       string(t.Reason),
			JobID:        t.ReferenceJobID,
			BalanceAfter: t.BalanceAfter,
			CreatedAt:    t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":      user.Credits,
		"transactions": entries,
	})
}

// handleSweep triggers one sweep batch per kind. Safe to invoke repeatedly
// and concurrently with the scheduled sweeps: overlap degrades to extra
// no-op reconcile calls.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	kinds := []model.JobKind{model.JobKindImage, model.JobKindVideo, model.JobKindUpscale}
	if k := r.URL.Query().Get("kind"); k != "" {
		kinds = []model.JobKind{model.JobKind(k)}
	}
	summaries := make([]*sched.Summary, 0, len(kinds))
	for _, kind := range kinds {
		summary, err := s.sweeper.Run(r.Context(), kind)
		if err != nil {
			writeError(w, err)
			return
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, summaries)
}
