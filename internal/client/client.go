// Package client is a small HTTP client for the ScanVault API, used by the
// scanvault CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dharsanguruparan/ScanVault/internal/model"
	"github.com/dharsanguruparan/ScanVault/internal/service"
)

// APIError is a non-2xx response decoded from the JSON error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

var codeKinds = map[string]error{
	"UNAUTHORIZED":             model.ErrUnauthenticated,
	"IDENTITY_UNAVAILABLE":     model.ErrIdentityUnavailable,
	"FORBIDDEN":                model.ErrForbidden,
	"VALIDATION_ERROR":         model.ErrInvalidScan,
	"UNSUPPORTED_MEDIA_TYPE":   model.ErrUnsupportedMediaType,
	"BLOB_UPLOAD_FAILED":       model.ErrBlobUploadFailed,
	"PERSISTENCE_ERROR":        model.ErrPersistence,
	"NOT_FOUND":                model.ErrNotFound,
	"REPORT_GENERATION_FAILED": model.ErrReportGenerationFailed,
}

// Unwrap lets callers match API errors with errors.Is against model kinds.
func (e *APIError) Unwrap() error {
	return codeKinds[e.Code]
}

// Client talks to one ScanVault server as one principal.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a Client.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Report is a downloaded PDF.
type Report struct {
	FileName      string
	ImageEmbedded bool
	PDF           []byte
}

// Whoami returns the caller's role and capabilities.
func (c *Client) Whoami(ctx context.Context) (*service.Identity, error) {
	var id service.Identity
	if err := c.getJSON(ctx, "/api/v1/me", &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Feed lists scans newest first.
func (c *Client) Feed(ctx context.Context) ([]model.ScanRecord, error) {
	var scans []model.ScanRecord
	if err := c.getJSON(ctx, "/api/v1/scans", &scans); err != nil {
		return nil, err
	}
	return scans, nil
}

// Submit uploads one scan image with its fields.
func (c *Client) Submit(ctx context.Context, fields model.ScanFields, fileName string, image []byte) (*model.ScanRecord, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, value := range map[string]string{
		"patient_name": fields.PatientName,
		"patient_id":   fields.PatientID,
		"scan_type":    string(fields.ScanType),
		"region":       string(fields.Region),
	} {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", name, err)
		}
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/scans", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var rec model.ScanRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode scan: %w", err)
	}
	return &rec, nil
}

// Export downloads the PDF report of one scan.
func (c *Client) Export(ctx context.Context, scanID string) (*Report, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/scans/"+scanID+"/report", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	name := scanID + "_scan_report.pdf"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return &Report{
		FileName:      name,
		ImageEmbedded: resp.Header.Get("X-Report-Image") == "embedded",
		PDF:           data,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends the request and turns error responses into *APIError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	apiErr := &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: resp.Status}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return nil, apiErr
}

// IsKind reports whether err is an API error of the given model kind.
func IsKind(err, kind error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && errors.Is(apiErr, kind)
}
