package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/datallboy/hlsget/internal/app"
	"github.com/datallboy/hlsget/internal/domain"
	"github.com/labstack/echo/v5"
)

type JobsController struct {
	App *app.Context
}

type createJobRequest struct {
	URL      string `json:"url"`
	Output   string `json:"output"`
	Compress bool   `json:"compress"`
}

type jobResponse struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Output        string    `json:"output"`
	Compress      bool      `json:"compress"`
	Status        string    `json:"status"`
	TotalSegments int       `json:"total_segments"`
	SegmentsDone  int64     `json:"segments_done"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	FinishedAt    time.Time `json:"finished_at,omitzero"`
}

func toResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:            job.ID,
		URL:           job.URL,
		Output:        job.Output,
		Compress:      job.Compress,
		Status:        string(job.Status),
		TotalSegments: job.TotalSegments,
		SegmentsDone:  job.SegmentsDone.Load(),
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		FinishedAt:    job.FinishedAt,
	}
}

// Create enqueues a new download job.
func (ctrl *JobsController) Create(c *echo.Context) error {
	var req createJobRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.String(http.StatusBadRequest, "invalid request body")
	}

	if req.URL == "" {
		return c.String(http.StatusBadRequest, "url is required")
	}

	job, err := ctrl.App.Queue.Add(req.URL, req.Output, req.Compress)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, toResponse(job))
}

// List merges the live queue with the persisted history; live state wins.
func (ctrl *JobsController) List(c *echo.Context) error {
	recorded, err := ctrl.App.History.List()
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to list jobs")
	}

	live := make(map[string]*domain.Job)
	for _, job := range ctrl.App.Queue.Items() {
		live[job.ID] = job
	}

	out := make([]jobResponse, 0, len(recorded))
	seen := make(map[string]bool)
	for _, job := range recorded {
		if l, ok := live[job.ID]; ok {
			job = l
		}
		out = append(out, toResponse(job))
		seen[job.ID] = true
	}
	// Jobs enqueued but not yet persisted to a visible snapshot.
	for _, job := range ctrl.App.Queue.Items() {
		if !seen[job.ID] {
			out = append(out, toResponse(job))
		}
	}

	return c.JSON(http.StatusOK, out)
}

// Get returns one job by id, live state preferred.
func (ctrl *JobsController) Get(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.String(http.StatusBadRequest, "missing job id")
	}

	job, ok := ctrl.App.Queue.Item(id)
	if !ok {
		return c.String(http.StatusNotFound, "job not found")
	}

	return c.JSON(http.StatusOK, toResponse(job))
}

// Cancel stops a pending or running job.
func (ctrl *JobsController) Cancel(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return c.String(http.StatusBadRequest, "missing job id")
	}

	if !ctrl.App.Queue.Cancel(id) {
		return c.String(http.StatusNotFound, "job not found or already finished")
	}

	return c.NoContent(http.StatusAccepted)
}
