package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/isdmx/testbot/master"
)

// Artifact names of plagiarism checks
const (
	ArtifactSummaryJSON = "summary.json"
	ArtifactSummaryText = "summary.txt"
	ArtifactReport      = "report.txt"
)

// Summary fields too large to return as a job result.
var collisionFields = []string{"colliding_users", "colliding_teams", "colliding_files"}

// PlagiarismExecutor asks an external similarity service to check a
// submission file.
type PlagiarismExecutor struct {
	*Job
	api    string
	client *http.Client

	requirementID int64
	templateID    *int64
}

// NewPlagiarismExecutor creates a plagiarism check against the service at api.
func NewPlagiarismExecutor(ref master.JobRef, deps Deps, api string, client *http.Client) *PlagiarismExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &PlagiarismExecutor{
		Job:    NewJob(master.KindAntiPlagiarism, ref, deps),
		api:    api,
		client: client,
	}
}

// Prepare checks that the service address and the target requirement are set.
func (p *PlagiarismExecutor) Prepare(ctx context.Context) error {
	if err := p.Job.Prepare(ctx); err != nil {
		return err
	}
	if p.api == "" {
		return configErrorf("api address for anti-plagiarism not found")
	}
	if p.Config.FileRequirementID == nil {
		return configErrorf("target file requirement id is not specified")
	}
	p.requirementID = *p.Config.FileRequirementID
	p.templateID = p.Config.TemplateFileID
	return nil
}

// Run queries the service and returns the summary without collision details.
func (p *PlagiarismExecutor) Run(ctx context.Context) (any, error) {
	if _, err := p.Job.Run(ctx); err != nil {
		return nil, err
	}

	body, err := p.check(ctx)
	if err != nil {
		return nil, err
	}

	summary, report, _ := strings.Cut(string(body), "\n")
	value, isJSON := decodeJSON(summary)
	if summary != "" {
		name := ArtifactSummaryText
		if isJSON {
			name = ArtifactSummaryJSON
		}
		p.Artifacts[name] = []byte(summary)
	}
	if report != "" {
		p.Artifacts[ArtifactReport] = []byte(report)
	}

	if m, ok := value.(map[string]any); ok {
		for _, k := range collisionFields {
			delete(m, k)
		}
	}
	return value, nil
}

func (p *PlagiarismExecutor) check(ctx context.Context) ([]byte, error) {
	u, err := url.Parse(p.api)
	if err != nil {
		return nil, configErrorf("invalid anti-plagiarism api address %q", p.api)
	}
	u = u.JoinPath("api", "check")
	q := u.Query()
	q.Set("rid", strconv.FormatInt(p.requirementID, 10))
	q.Set("sid", strconv.FormatInt(p.Ref.SubmissionID, 10))
	if p.templateID != nil {
		q.Set("tid", strconv.FormatInt(*p.templateID, 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, infraError("failed to build anti-plagiarism request", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, infraError("anti-plagiarism request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, infraError("failed to read anti-plagiarism response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, infraError("anti-plagiarism check failed",
			fmt.Errorf("unexpected status %s", resp.Status))
	}

	p.logger.Debug("anti-plagiarism check finished",
		zap.Int64("requirement_id", p.requirementID),
		zap.Int("response_bytes", len(body)))
	return body, nil
}

// decodeJSON decodes s when it is a single JSON value, keeping numbers
// exact. Otherwise s is returned unchanged.
func decodeJSON(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return s, false
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return s, false
	}
	return v, true
}
