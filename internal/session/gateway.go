package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"reqcore/internal/blob"
	"reqcore/pkg/domain"
)

// NetError is a decoded error response from the artifact service. Handled
// marks errors already surfaced to the user by a lower layer; callers treat
// those as resolved and stay silent.
type NetError struct {
	StatusCode  int
	ErrorCode   domain.ErrorCode
	Message     string
	Handled     bool
	Dependents  *domain.DependentSet
	PropertyIDs []int64
}

func (e *NetError) Error() string {
	return fmt.Sprintf("artifact service: status %d code %d: %s", e.StatusCode, e.ErrorCode, e.Message)
}

// AsNetError unwraps err into a *NetError when it is one.
func AsNetError(err error) (*NetError, bool) {
	ne, ok := err.(*NetError)
	return ne, ok
}

// Gateway is the network boundary of the session engine. Implementations
// translate transport failures into *NetError values.
type Gateway interface {
	GetArtifact(ctx context.Context, id int64) (domain.Artifact, error)
	UpdateArtifact(ctx context.Context, id int64, delta ArtifactDelta) (domain.Artifact, error)
	LockArtifacts(ctx context.Context, ids []int64) ([]domain.LockResult, error)
	PublishArtifacts(ctx context.Context, ids []int64) error
	DiscardArtifacts(ctx context.Context, ids []int64) error
	DeleteArtifact(ctx context.Context, id int64) ([]int64, error)
	MoveArtifact(ctx context.Context, id, parentID int64) error
	CopyArtifact(ctx context.Context, id, parentID int64) (domain.Artifact, error)
	GetRelationships(ctx context.Context, id int64) ([]domain.Trace, error)
	GetAttachments(ctx context.Context, id int64) ([]blob.Info, error)
}

// HTTPGateway talks to the artifact service over its REST surface.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway builds a gateway for the service rooted at baseURL. A nil
// client falls back to http.DefaultClient.
func NewHTTPGateway(baseURL string, client *http.Client) *HTTPGateway {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGateway{baseURL: baseURL, client: client}
}

var _ Gateway = (*HTTPGateway)(nil)

type errorBody struct {
	StatusCode   int                 `json:"statusCode"`
	ErrorCode    int                 `json:"errorCode"`
	Message      string              `json:"message"`
	ErrorContent *domain.DependentSet `json:"errorContent,omitempty"`
	PropertyIDs  []int64             `json:"propertyIds,omitempty"`
}

type batchRequest struct {
	ArtifactIDs []int64 `json:"artifactIds"`
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return &NetError{StatusCode: 0, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeNetError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeNetError(resp *http.Response) *NetError {
	var body errorBody
	ne := &NetError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		ne.ErrorCode = domain.ErrorCode(body.ErrorCode)
		ne.Message = body.Message
		ne.Dependents = body.ErrorContent
		ne.PropertyIDs = body.PropertyIDs
	}
	return ne
}

func artifactPath(id int64) string {
	return "/artifacts/" + strconv.FormatInt(id, 10)
}

func (g *HTTPGateway) GetArtifact(ctx context.Context, id int64) (domain.Artifact, error) {
	var a domain.Artifact
	err := g.do(ctx, http.MethodGet, artifactPath(id), nil, &a)
	return a, err
}

func (g *HTTPGateway) UpdateArtifact(ctx context.Context, id int64, delta ArtifactDelta) (domain.Artifact, error) {
	var a domain.Artifact
	err := g.do(ctx, http.MethodPatch, artifactPath(id), delta, &a)
	return a, err
}

func (g *HTTPGateway) LockArtifacts(ctx context.Context, ids []int64) ([]domain.LockResult, error) {
	var results []domain.LockResult
	err := g.do(ctx, http.MethodPost, "/artifactlists/lock", batchRequest{ArtifactIDs: ids}, &results)
	return results, err
}

func (g *HTTPGateway) PublishArtifacts(ctx context.Context, ids []int64) error {
	return g.do(ctx, http.MethodPost, "/artifactlists/publish", batchRequest{ArtifactIDs: ids}, nil)
}

func (g *HTTPGateway) DiscardArtifacts(ctx context.Context, ids []int64) error {
	return g.do(ctx, http.MethodPost, "/artifactlists/discard", batchRequest{ArtifactIDs: ids}, nil)
}

func (g *HTTPGateway) DeleteArtifact(ctx context.Context, id int64) ([]int64, error) {
	var deleted struct {
		ArtifactIDs []int64 `json:"artifactIds"`
	}
	err := g.do(ctx, http.MethodDelete, artifactPath(id), nil, &deleted)
	return deleted.ArtifactIDs, err
}

func (g *HTTPGateway) MoveArtifact(ctx context.Context, id, parentID int64) error {
	path := artifactPath(id) + "/moveTo/" + strconv.FormatInt(parentID, 10)
	return g.do(ctx, http.MethodPost, path, nil, nil)
}

func (g *HTTPGateway) CopyArtifact(ctx context.Context, id, parentID int64) (domain.Artifact, error) {
	var a domain.Artifact
	path := artifactPath(id) + "/copyTo/" + strconv.FormatInt(parentID, 10)
	err := g.do(ctx, http.MethodPost, path, nil, &a)
	return a, err
}

func (g *HTTPGateway) GetRelationships(ctx context.Context, id int64) ([]domain.Trace, error) {
	var traces []domain.Trace
	err := g.do(ctx, http.MethodGet, artifactPath(id)+"/relationships", nil, &traces)
	return traces, err
}

func (g *HTTPGateway) GetAttachments(ctx context.Context, id int64) ([]blob.Info, error) {
	var infos []blob.Info
	err := g.do(ctx, http.MethodGet, artifactPath(id)+"/attachments", nil, &infos)
	return infos, err
}
