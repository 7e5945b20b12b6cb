package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"call-grader-go/internal/aigrader"
	"call-grader-go/internal/dataset"
	"call-grader-go/internal/grading"
	"call-grader-go/internal/processor"
	"call-grader-go/internal/store"
	"call-grader-go/internal/transcript"
	"call-grader-go/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Message: detail})
}

// GET /api/health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:  "healthy",
		Service: serviceName,
		Version: types.GraderVersion,
	})
}

// gradeBody is the optional part of a grade request besides the transcript.
// Fields stay raw so a wrong type can be reported by name.
type gradeBody struct {
	NatureCode json.RawMessage `json:"nature_code"`
	Overrides  json.RawMessage `json:"overrides"`
}

// decodeRequest reads a JSON transcript plus query options. The returned
// status is 0 on success.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (processor.Request, int, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxUpload))
	if err != nil {
		return processor.Request{}, http.StatusRequestEntityTooLarge, err
	}
	if !json.Valid(data) {
		return processor.Request{}, http.StatusBadRequest, errors.New("body must be a JSON transcript")
	}
	doc, err := transcript.ParseJSON(data)
	if err != nil {
		return processor.Request{}, http.StatusBadRequest, errors.New("Missing required field: segments")
	}
	var extra gradeBody
	_ = json.Unmarshal(data, &extra)
	bodyNC, err := natureCodeField(extra.NatureCode)
	if err != nil {
		return processor.Request{}, http.StatusBadRequest, err
	}
	raw, err := overrideCodes(extra.Overrides)
	if err != nil {
		return processor.Request{}, http.StatusBadRequest, err
	}
	overrides, err := grading.ParseOverrides(raw)
	if err != nil {
		return processor.Request{}, http.StatusBadRequest, fmt.Errorf("overrides: %w", err)
	}
	q := r.URL.Query()
	nc := q.Get("nature_code")
	if nc == "" {
		nc = bodyNC
	}
	return processor.Request{
		Document:     doc,
		NatureCode:   nc,
		ShowEvidence: truthy(q.Get("show_evidence")),
		Overrides:    overrides,
	}, 0, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func natureCodeField(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var nc string
	if err := json.Unmarshal(raw, &nc); err != nil {
		return "", errors.New("nature_code must be a string")
	}
	return nc, nil
}

// overrideCodes accepts {"1": "RC"} as well as numeric codes {"1": 5}.
func overrideCodes(raw json.RawMessage) (map[string]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.New("overrides must be an object of item id to code")
	}
	out := make(map[string]string, len(m))
	for id, v := range m {
		switch t := v.(type) {
		case string:
			out[id] = t
		case float64:
			out[id] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("overrides: item %q: code must be a string or number", id)
		}
	}
	return out, nil
}

func truthy(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

// POST /api/grade, /api/grade/rule
func (s *Server) gradeRule(w http.ResponseWriter, r *http.Request) {
	req, status, err := s.decodeRequest(w, r)
	if err != nil {
		s.log.WithRequest(r).WithError(err).Warn("grade request rejected")
		writeError(w, status, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Processor.Grade(req))
}

// POST /api/grade/ai
func (s *Server) gradeAI(w http.ResponseWriter, r *http.Request) {
	req, status, err := s.decodeRequest(w, r)
	if err != nil {
		writeError(w, status, err.Error(), "")
		return
	}
	resp, err := s.opts.Processor.GradeAI(r.Context(), req)
	if err != nil {
		s.aiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /api/grade/all
func (s *Server) gradeAll(w http.ResponseWriter, r *http.Request) {
	req, status, err := s.decodeRequest(w, r)
	if err != nil {
		writeError(w, status, err.Error(), "")
		return
	}
	resp, err := s.opts.Processor.Compare(r.Context(), req)
	if err != nil {
		s.aiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) aiError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, aigrader.ErrNotConfigured) {
		writeError(w, http.StatusNotImplemented, "AI grading not configured", "set LLM_GATEWAY_URL to enable it")
		return
	}
	s.log.WithRequest(r).WithError(err).Error("ai grading failed")
	writeError(w, http.StatusBadGateway, "AI grading failed", err.Error())
}

// POST /api/upload (multipart "file", optional "nature_code", "grader_type")
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithRequest(r).WithField("handler", "upload")
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
	if err := r.ParseMultipartForm(s.opts.MaxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field", err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided", "")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file", err.Error())
		return
	}
	name := filepath.Base(header.Filename)
	doc, err := transcript.Decode(name, data)
	if err != nil {
		log.WithError(err).WithField("filename", name).Warn("upload rejected")
		writeError(w, http.StatusBadRequest, "Invalid transcript file", err.Error())
		return
	}

	req := processor.Request{
		Document:     doc,
		NatureCode:   r.FormValue("nature_code"),
		ShowEvidence: truthy(r.FormValue("show_evidence")),
	}
	var resp types.GradeResponse
	switch strings.ToLower(r.FormValue("grader_type")) {
	case "ai", string(types.GraderAI):
		resp, err = s.opts.Processor.GradeAI(r.Context(), req)
		if err != nil {
			s.aiError(w, r, err)
			return
		}
	default:
		resp = s.opts.Processor.Grade(req)
	}

	id := ""
	if s.opts.Store != nil {
		rec, err := s.opts.Store.Save(r.Context(), store.Record{
			Filename:   name,
			GraderType: string(resp.GraderType),
			NatureCode: resp.Metadata.NatureCode,
			Percentage: resp.GradePercentage,
			Grades:     resp.Grades,
			Summary:    resp.Summary,
		})
		if err != nil {
			log.WithError(err).Error("persist graded call failed")
			writeError(w, http.StatusInternalServerError, "could not store graded call", err.Error())
			return
		}
		id = rec.ID
	}
	log.WithField("filename", name).WithField("grade_percentage", resp.GradePercentage).Info("upload graded")
	writeJSON(w, http.StatusOK, processor.Upload(name, id, resp))
}

// GET /api/records?limit=
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled", "")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.opts.Store.List(r.Context(), limit)
	if err != nil {
		s.log.WithRequest(r).WithError(err).Error("list records failed")
		writeError(w, http.StatusInternalServerError, "could not list records", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

// GET /api/records/{id}
func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled", "")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	rec, err := s.opts.Store.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found", id)
	case err != nil:
		s.log.WithRequest(r).WithError(err).Error("get record failed")
		writeError(w, http.StatusInternalServerError, "could not load record", err.Error())
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// GET /api/questions/nature-codes
func (s *Server) natureCodes(w http.ResponseWriter, r *http.Request) {
	cat := s.opts.Processor.Catalog()
	if cat == nil {
		writeJSON(w, http.StatusOK, dataset.CatalogSummary{NatureCodes: []dataset.NatureCodeCount{}})
		return
	}
	writeJSON(w, http.StatusOK, cat.Summary())
}
