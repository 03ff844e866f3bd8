package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docsum/internal/pipeline"
	"github.com/dgallion1/docsum/internal/source"
)

type summarizeRequest struct {
	URL   string `json:"url"`
	Text  string `json:"text"`
	Title string `json:"title"`
}

// handleSummarize queues a document given as a multipart "file" field or
// as a JSON body naming a url or carrying the text inline.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	var (
		in  pipeline.Input
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		in, err = s.fileInput(r)
	} else {
		in, err = jsonInput(r)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, errFileTooLarge) {
			jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := s.submit(in)
	if err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"source":   job.Source,
		"status":   job.Status,
		"poll_url": fmt.Sprintf("/api/summarize/%s", job.ID),
	})
}

var errFileTooLarge = errors.New("file exceeds max size")

func (s *Server) fileInput(r *http.Request) (pipeline.Input, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return pipeline.Input{}, fmt.Errorf("invalid multipart form: %w", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("file is required: %w", err)
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	data, err := s.readUpload(filename, file)
	if err != nil {
		return pipeline.Input{}, err
	}
	return pipeline.Input{Filename: filename, Data: data}, nil
}

func (s *Server) readUpload(filename string, r io.Reader) ([]byte, error) {
	if !source.IsSupportedExtension(filename) {
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(filename))
	}
	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w (%d bytes)", errFileTooLarge, s.cfg.MaxUploadBytes)
	}
	return data, nil
}

func jsonInput(r *http.Request) (pipeline.Input, error) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pipeline.Input{}, err
		}
		return pipeline.Input{}, fmt.Errorf("invalid json body: %w", err)
	}
	req.URL = strings.TrimSpace(req.URL)
	switch {
	case req.URL != "" && req.Text != "":
		return pipeline.Input{}, errors.New("provide either url or text, not both")
	case req.URL != "":
		return pipeline.Input{URL: req.URL, Filename: req.Title}, nil
	case strings.TrimSpace(req.Text) != "":
		return pipeline.Input{Text: req.Text, Filename: req.Title}, nil
	default:
		return pipeline.Input{}, source.ErrNoInput
	}
}

func (s *Server) submit(in pipeline.Input) (*pipeline.Job, error) {
	job, err := pipeline.NewJob(in)
	if err != nil {
		return nil, err
	}
	if err := s.orchestrator.Submit(job); err != nil {
		return nil, err
	}
	s.log.Info("job queued", "job_id", job.ID, "source", job.Source)
	return job, nil
}

func (s *Server) handleSummarizeStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job.Snapshot())
}

func (s *Server) handleBatchSummarize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	var results []map[string]any
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)

		f, err := fh.Open()
		if err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    "failed to open file",
			})
			continue
		}
		data, err := s.readUpload(filename, f)
		f.Close()
		if err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}

		job, err := s.submit(pipeline.Input{Filename: filename, Data: data})
		if err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}

		results = append(results, map[string]any{
			"filename": filename,
			"job_id":   job.ID,
			"status":   job.Status,
			"poll_url": fmt.Sprintf("/api/summarize/%s", job.ID),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"jobs": results})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
