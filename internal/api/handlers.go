// Package api exposes the ingestion service over HTTP: upload a tabular
// file, poll the resulting job, health-check the process.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"ingestor/internal/jobs"
	"ingestor/internal/sampler"
)

// Handler handles API requests.
type Handler struct {
	Store *jobs.Store

	// UploadDir receives uploaded files until their job is purged.
	UploadDir string

	// MaxUploadBytes rejects larger uploads. Zero means no limit.
	MaxUploadBytes int64

	Version string
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.Version,
	})
}

type uploadResponse struct {
	JobID     string `json:"job_id"`
	Owner     string `json:"owner,omitempty"`
	TableName string `json:"table_name"`
	FileName  string `json:"file_name"`
	Format    string `json:"format"`
	Status    string `json:"status"`
}

// HandleUpload accepts a multipart file, stores it, and queues an ingestion
// job. The response carries the job id to poll and the destination table
// name the data will land in.
func (h *Handler) HandleUpload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	if h.MaxUploadBytes > 0 && file.Size > h.MaxUploadBytes {
		return NewPayloadTooLargeError(h.MaxUploadBytes)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	id := uuid.New()
	tableName := "t_" + strings.ReplaceAll(id.String(), "-", "")

	path, err := h.saveUpload(id.String(), file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	format := detectFormat(path, file.Filename)

	job := &jobs.Job{
		ID:        id.String(),
		Owner:     c.FormValue("owner"),
		FileName:  file.Filename,
		FilePath:  path,
		Format:    string(format),
		TableName: tableName,
	}
	if err := h.Store.Enqueue(c.Request().Context(), job); err != nil {
		_ = os.Remove(path)
		return NewInternalError("failed to queue job", err)
	}

	return c.JSON(http.StatusAccepted, uploadResponse{
		JobID:     job.ID,
		Owner:     job.Owner,
		TableName: job.TableName,
		FileName:  job.FileName,
		Format:    job.Format,
		Status:    string(jobs.StatusQueued),
	})
}

// saveUpload writes the upload under a job-unique name, keeping the original
// extension so format detection by extension still works on the stored copy.
func (h *Handler) saveUpload(id, original string, src io.Reader) (string, error) {
	if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
		return "", err
	}
	name := id + strings.ToLower(filepath.Ext(original))
	path := filepath.Join(h.UploadDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func detectFormat(path, original string) sampler.Format {
	head := make([]byte, 512)
	n := 0
	if f, err := os.Open(path); err == nil {
		n, _ = io.ReadFull(f, head)
		f.Close()
	}
	return sampler.DetectFormat(original, head[:n])
}

type jobResponse struct {
	*jobs.Job
	Corrections json.RawMessage `json:"corrections"`
}

// HandleGetJob returns the state of one ingestion job.
func (h *Handler) HandleGetJob(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewBadRequestError("missing job id", nil)
	}

	job, err := h.Store.Get(c.Request().Context(), id)
	if errors.Is(err, jobs.ErrNotFound) {
		return NewNotFoundError("job", id)
	}
	if err != nil {
		return NewInternalError(fmt.Sprintf("failed to load job %s", id), err)
	}

	corrections := json.RawMessage(job.Corrections)
	if len(corrections) == 0 {
		corrections = json.RawMessage("[]")
	}
	return c.JSON(http.StatusOK, jobResponse{Job: job, Corrections: corrections})
}
