package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/ScanVault/internal/identity"
	"github.com/dharsanguruparan/ScanVault/internal/model"
	"github.com/dharsanguruparan/ScanVault/internal/service"
)

// formOverhead leaves room for the text fields and multipart framing on top
// of the image limit.
const formOverhead = 64 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready.CheckReady(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "fail", "message": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFrom(r.Context())
	id, err := s.svc.Whoami(r.Context(), p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, id)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFrom(r.Context())
	// Reject callers without the capability before the upload is read.
	if _, err := s.svc.Authorize(r.Context(), p, service.CapSubmitScan); err != nil {
		s.respondError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxImageBytes+formOverhead)
	sub, err := s.readSubmission(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	rec, err := s.svc.SubmitScan(r.Context(), p, sub)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/scans/"+rec.ID)
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFrom(r.Context())
	scans, err := s.svc.FetchReviewFeed(r.Context(), p)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, scans)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFrom(r.Context())
	doc, err := s.svc.ExportReport(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	image := "embedded"
	if !doc.ImageEmbedded {
		image = "unavailable"
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.PDF)))
	w.Header().Set("X-Report-Image", image)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.PDF)
}

// readSubmission streams the multipart form. The image's content type is
// sniffed from its first bytes rather than trusted from the client.
func (s *Server) readSubmission(r *http.Request) (service.Submission, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return service.Submission{}, fmt.Errorf("expecting multipart form: %w", model.ErrInvalidScan)
	}
	var (
		sub     service.Submission
		hasFile bool
	)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return service.Submission{}, formError(err)
		}
		switch part.FormName() {
		case "patient_name":
			sub.Fields.PatientName, err = readField(part)
		case "patient_id":
			sub.Fields.PatientID, err = readField(part)
		case "scan_type":
			var v string
			v, err = readField(part)
			sub.Fields.ScanType = model.ScanType(v)
		case "region":
			var v string
			v, err = readField(part)
			sub.Fields.Region = model.Region(v)
		case "file":
			hasFile = true
			sub.FileName = part.FileName()
			sub.Image, err = s.readImage(part)
			if err == nil && len(sub.Image) == 0 {
				err = fmt.Errorf("file is empty: %w", model.ErrInvalidScan)
			}
			if err == nil {
				sub.ContentType = http.DetectContentType(sub.Image)
			}
		}
		part.Close()
		if err != nil {
			return service.Submission{}, err
		}
	}
	if !hasFile {
		return service.Submission{}, fmt.Errorf("file is required: %w", model.ErrInvalidScan)
	}
	return sub, nil
}

func (s *Server) readImage(part *multipart.Part) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(part, s.opts.MaxImageBytes+1))
	if err != nil {
		return nil, formError(err)
	}
	if n > s.opts.MaxImageBytes {
		return nil, fmt.Errorf("file exceeds limit (%d bytes): %w", s.opts.MaxImageBytes, model.ErrInvalidScan)
	}
	return buf.Bytes(), nil
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, 4<<10))
	if err != nil {
		return "", formError(err)
	}
	return string(data), nil
}

func formError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("request exceeds %d bytes: %w", tooLarge.Limit, model.ErrInvalidScan)
	}
	return fmt.Errorf("read form: %w: %w", model.ErrInvalidScan, err)
}
