package master

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // integrity check against the master's checksums, not a security boundary
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrChecksumMismatch is returned when downloaded content does not match the
// MD5 announced by the master.
var ErrChecksumMismatch = errors.New("md5 check failed")

// StatusError is returned when the master answers with a non-2xx status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %s", e.Method, e.URL, e.Status)
}

// ClientConfig holds the connection settings for the master service.
type ClientConfig struct {
	BaseURL  string
	Name     string
	Password string
	Timeout  time.Duration
}

// Client talks to the master service over HTTP with basic auth.
type Client struct {
	baseURL  string
	name     string
	password string
	http     *http.Client
	logger   *zap.Logger
}

// ClientOption defines a functional option for Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a new master client
func NewClient(cfg ClientConfig, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("master base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid master base url: %w", err)
	}
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	c := &Client{
		baseURL:  base,
		name:     cfg.Name,
		password: cfg.Password,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ReportStarted tells the master that a worker picked up the job.
func (c *Client) ReportStarted(ctx context.Context, ref JobRef, hostname string, pid int) error {
	body := map[string]any{"hostname": hostname, "pid": pid}
	path := fmt.Sprintf("api/submissions/%d/worker-started/%s", ref.SubmissionID, url.PathEscape(ref.WorkID))
	return c.putJSON(ctx, path, body)
}

// ReportResult sends the final outcome of a job.
func (c *Client) ReportResult(ctx context.Context, ref JobRef, outcome Outcome) error {
	path := fmt.Sprintf("api/submissions/%d/worker-result/%s", ref.SubmissionID, url.PathEscape(ref.WorkID))
	return c.putJSON(ctx, path, outcome)
}

// GetSubmissionAndConfig fetches the submission and its test configuration in
// one request.
func (c *Client) GetSubmissionAndConfig(ctx context.Context, ref JobRef) (*SubmissionAndConfig, error) {
	path := fmt.Sprintf("api/submissions/%d/worker-get-submission-and-config/%s",
		ref.SubmissionID, url.PathEscape(ref.WorkID))

	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info SubmissionAndConfig
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode submission and config: %w", err)
	}
	return &info, nil
}

// DownloadMaterial downloads an environment archive into dir and returns its
// path relative to dir. The file keeps the archive suffix of the material
// name so it can be unpacked later.
func (c *Client) DownloadMaterial(ctx context.Context, env Environment, dir string) (string, error) {
	path := fmt.Sprintf("api/materials/%d/worker-download", env.ID)
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	f, err := os.CreateTemp(dir, fmt.Sprintf("%d-*%s", env.ID, MaterialSuffix(env.Name)))
	if err != nil {
		return "", fmt.Errorf("failed to create material file: %w", err)
	}
	localPath := f.Name()

	sum, err := copyWithMD5(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(localPath)
		return "", fmt.Errorf("failed to save material %q: %w", env.Name, err)
	}
	if !strings.EqualFold(sum, env.MD5) {
		_ = os.Remove(localPath)
		return "", fmt.Errorf("%w: material %q", ErrChecksumMismatch, env.Name)
	}

	c.logger.Debug("material downloaded",
		zap.Int64("environment_id", env.ID),
		zap.String("path", localPath))
	return filepath.Rel(dir, localPath)
}

// DownloadSubmissionFile saves a submission file to dest and verifies its MD5.
func (c *Client) DownloadSubmissionFile(ctx context.Context, ref JobRef, file SubmissionFile, dest string) error {
	path := fmt.Sprintf("api/submissions/%d/worker-submission-files/%s/%d",
		ref.SubmissionID, url.PathEscape(ref.WorkID), file.ID)
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest) //nolint:gosec // dest is built from a validated requirement name
	if err != nil {
		return fmt.Errorf("failed to create submission file: %w", err)
	}
	sum, err := copyWithMD5(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to save submission file %q: %w", file.Requirement.Name, err)
	}
	if !strings.EqualFold(sum, file.MD5) {
		return fmt.Errorf("%w: submission file %q", ErrChecksumMismatch, file.Requirement.Name)
	}
	return nil
}

// UploadOutputFiles uploads the artifacts of a job as a multipart form, one
// part per file.
func (c *Client) UploadOutputFiles(ctx context.Context, ref JobRef, files map[string][]byte) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range names {
		part, err := mw.CreateFormFile(name, name)
		if err != nil {
			return fmt.Errorf("failed to create form file %q: %w", name, err)
		}
		if _, err := part.Write(files[name]); err != nil {
			return fmt.Errorf("failed to write form file %q: %w", name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to finish multipart body: %w", err)
	}

	path := fmt.Sprintf("api/submissions/%d/worker-output-files/%s", ref.SubmissionID, url.PathEscape(ref.WorkID))
	resp, err := c.do(ctx, http.MethodPost, path, &buf, mw.FormDataContentType())
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func (c *Client) putJSON(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPut, path, bytes.NewReader(b), "application/json")
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// do sends an authenticated request; the caller owns the body of a
// successful response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.name != "" {
		req.SetBasicAuth(c.name, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, &StatusError{Method: method, URL: target, Code: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

// MaterialSuffix returns the archive suffix of a material name, keeping up to
// two extensions so "env.tar.gz" yields ".tar.gz".
func MaterialSuffix(name string) string {
	parts := strings.Split(filepath.Base(name), ".")
	if len(parts) < 2 {
		return ""
	}
	keep := parts[1:]
	if len(keep) > 2 {
		keep = keep[len(keep)-2:]
	}
	return "." + strings.Join(keep, ".")
}

func copyWithMD5(dst io.Writer, src io.Reader) (string, error) {
	h := md5.New() //nolint:gosec // see import
	if _, err := io.Copy(io.MultiWriter(dst, h), src); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MD5File returns the hex MD5 digest of a file.
func MD5File(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // caller controlled path
	if err != nil {
		return "", err
	}
	defer f.Close()
	return copyWithMD5(io.Discard, f)
}
