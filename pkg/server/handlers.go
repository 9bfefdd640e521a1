package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"job-coordinator/pkg/compute"
	"job-coordinator/pkg/job"
	"job-coordinator/pkg/operation"
	"job-coordinator/pkg/queue"

	"github.com/go-chi/chi/v5"
)

type kindMessages struct {
	done   string
	queued string
}

var messages = map[job.Kind]kindMessages{
	job.KindSummarize:      {"Text summarized successfully", "Summarization task queued successfully"},
	job.KindQuestionAnswer: {"Question answered successfully", "Question answering task queued successfully"},
	job.KindToneRewrite:    {"Text tone rewritten successfully", "Tone rewriting task queued successfully"},
	job.KindTranslate:      {"Text translated successfully", "Translation task queued successfully"},
	job.KindEcho:           {"Payload echoed successfully", "Echo task queued successfully"},
}

// JobView is the public shape of a job snapshot.
type JobView struct {
	JobID       string     `json:"job_id"`
	Kind        job.Kind   `json:"kind"`
	Status      job.Status `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Result      any        `json:"result"`
	Error       *string    `json:"error"`
}

func newJobView(j *job.Job) JobView {
	v := JobView{
		JobID:       j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	if len(j.Result) > 0 {
		v.Result = j.Result
	}
	if j.Error != "" {
		msg := j.Error
		v.Error = &msg
	}
	return v
}

// decodeRequest resolves the kind from the URL and validates the body. It writes the
// error response itself and returns nil when the request cannot proceed.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) operation.Request {
	kind, err := operation.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Endpoint not found")
		return nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
			return nil
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return nil
	}

	req, err := operation.Decode(kind, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	return req
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	req := s.decodeRequest(w, r)
	if req == nil {
		return
	}
	kind := req.Kind()

	out, err := s.dispatch.Run(r.Context(), req)
	if err != nil {
		var ce *compute.ComputeError
		if errors.As(err, &ce) {
			s.log.WithError(err).WithField("kind", kind).Error("operation failed")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeInternal(w, err, "sync request failed")
		return
	}

	data := make(map[string]any, len(out.Data)+1)
	for k, v := range out.Data {
		data[k] = v
	}
	data["cached"] = out.Cached

	msg := messages[kind].done
	if out.Cached {
		msg += " (cached)"
	}
	writeOK(w, http.StatusOK, msg, data)
}

func (s *Server) handleAsync(w http.ResponseWriter, r *http.Request) {
	req := s.decodeRequest(w, r)
	if req == nil {
		return
	}

	id, err := s.dispatch.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "Task queue is unavailable, try again later")
		default:
			s.writeInternal(w, err, "async request failed")
		}
		return
	}
	writeOK(w, http.StatusAccepted, messages[req.Kind()].queued, job.SubmissionResponse{JobID: id})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Job retrieved successfully", newJobView(j))
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := s.jobs.RequestCancel(r.Context(), id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Job cancellation requested", map[string]any{
		"job_id": id,
		"status": j.Status,
		"note":   "Cancellation is advisory; work already started runs to completion",
	})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, job.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.writeInternal(w, err, "job lookup failed")
}

// writeInternal maps storage outages to 503 and everything else to 500.
func (s *Server) writeInternal(w http.ResponseWriter, err error, msg string) {
	s.log.WithError(err).Error(msg)
	if errors.Is(err, job.ErrStorageUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "Job storage is unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal server error")
}
