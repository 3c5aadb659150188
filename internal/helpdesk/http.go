package helpdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every helpdesk call; a timed-out call is treated
// as failed, never as an unknown success.
const DefaultTimeout = 15 * time.Second

// HTTPClient talks to an IntraDesk-style task API: tickets are created and
// mutated through a single tasks endpoint whose payload is a map of
// JSON-encoded "blocks", and files are uploaded separately and referenced
// from the comment block.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

// HTTPClientOpts holds parameters for creating an HTTPClient.
type HTTPClientOpts struct {
	BaseURL   string
	APIKey    string        // appended as a query parameter
	AuthToken string        // optional bearer token
	Timeout   time.Duration // defaults to DefaultTimeout
}

// NewHTTPClient creates an HTTPClient. The bearer token is injected via an
// oauth2 static token source so every request carries the Authorization
// header.
func NewHTTPClient(opts HTTPClientOpts) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("helpdesk: base url is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("helpdesk: api key is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.AuthToken != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AuthToken, TokenType: "Bearer"})
		httpClient = oauth2.NewClient(context.Background(), src)
		httpClient.Timeout = timeout
	}

	return &HTTPClient{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		http:    httpClient,
		timeout: timeout,
	}, nil
}

// tasksURL returns the tasks endpoint with the api key attached.
func (c *HTTPClient) tasksURL() string {
	return c.endpoint("/changes/v3/tasks")
}

func (c *HTTPClient) endpoint(path string) string {
	return c.baseURL + path + "?ApiKey=" + url.QueryEscape(c.apiKey)
}

// taskResponse is the subset of the tasks endpoint response the bridge
// reads. Fields.status may arrive as a number or an escaped JSON object.
type taskResponse struct {
	ID     json.Number     `json:"Id"`
	Number json.Number     `json:"Number"`
	Fields json.RawMessage `json:"Fields"`
}

// CreateTicket posts a new task and returns its identity.
func (c *HTTPClient) CreateTicket(ctx context.Context, req CreateTicketRequest) (*Ticket, error) {
	blocks := map[string]interface{}{
		"name":        blockValue(req.Subject),
		"description": blockValue(req.Description),
		"priority":    map[string]interface{}{"value": 3},
	}
	if len(req.Attachments) > 0 {
		refs, err := c.uploadAll(ctx, "0", "Description", req.Attachments)
		if err != nil {
			return nil, err
		}
		blocks["attachments"] = attachmentBlock(refs, 20)
	}

	body := map[string]interface{}{
		"blocks":  encodeBlocks(blocks),
		"Channel": "chat-bridge",
	}

	var resp taskResponse
	if err := c.doJSON(ctx, "create ticket", http.MethodPost, c.tasksURL(), body, &resp); err != nil {
		return nil, err
	}
	if resp.ID.String() == "" {
		return nil, &RemoteError{Op: "create ticket", Err: fmt.Errorf("response missing ticket id")}
	}

	t := &Ticket{ID: resp.ID.String(), Number: resp.Number.String()}
	if id, ok := StatusFromFields(resp.Fields); ok {
		t.StatusID = id
	}
	return t, nil
}

// AddComment appends a comment (with any uploaded attachments) to a task.
// Returns the ticket ID as the comment reference; the API does not hand
// back distinct comment identifiers.
func (c *HTTPClient) AddComment(ctx context.Context, ticketID, body string, attachments []Upload) (string, error) {
	blocks := map[string]interface{}{}
	if body != "" {
		blocks["comment"] = blockValue(body)
	}
	if len(attachments) > 0 {
		refs, err := c.uploadAll(ctx, ticketID, "Comment", attachments)
		if err != nil {
			return "", err
		}
		blocks["attachments"] = attachmentBlock(refs, 30)
	}
	if len(blocks) == 0 {
		return "", &RemoteError{Op: "add comment", Err: fmt.Errorf("empty comment")}
	}

	payload := map[string]interface{}{
		"id":     ticketID,
		"blocks": encodeBlocks(blocks),
	}
	var resp taskResponse
	if err := c.doJSON(ctx, "add comment", http.MethodPut, c.tasksURL(), payload, &resp); err != nil {
		return "", err
	}
	return ticketID, nil
}

// SetStatus transitions a task. Setting the current status again is a
// no-op on the helpdesk side, which makes the engine's reopen retry safe.
func (c *HTTPClient) SetStatus(ctx context.Context, ticketID string, statusID int) error {
	payload := map[string]interface{}{
		"id": ticketID,
		"blocks": encodeBlocks(map[string]interface{}{
			"status": map[string]interface{}{"value": statusID},
		}),
	}
	var resp taskResponse
	return c.doJSON(ctx, "set status", http.MethodPut, c.tasksURL(), payload, &resp)
}

// GetStatus fetches the current status identifier of a task.
func (c *HTTPClient) GetStatus(ctx context.Context, ticketID string) (int, error) {
	u := c.endpoint("/changes/v3/tasks/" + url.PathEscape(ticketID))
	var resp taskResponse
	if err := c.doJSON(ctx, "get status", http.MethodGet, u, nil, &resp); err != nil {
		return 0, err
	}
	id, ok := StatusFromFields(resp.Fields)
	if !ok {
		return 0, &RemoteError{Op: "get status", Err: fmt.Errorf("response missing status")}
	}
	return id, nil
}

type fileRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	MIME string `json:"contentType"`
	Size int64  `json:"size"`
}

// uploadAll streams each attachment to the files endpoint and collects the
// returned references.
func (c *HTTPClient) uploadAll(ctx context.Context, ticketID, target string, ups []Upload) ([]fileRef, error) {
	refs := make([]fileRef, 0, len(ups))
	for _, up := range ups {
		ref, err := c.uploadFile(ctx, ticketID, target, up)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (c *HTTPClient) uploadFile(ctx context.Context, ticketID, target string, up Upload) (fileRef, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", up.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, up.Content); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	u := c.endpoint("/files/api/tasks/" + url.PathEscape(ticketID) + "/files/target/" + target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return fileRef{}, &RemoteError{Op: "upload file", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fileRef{}, &RemoteError{Op: "upload file", Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fileRef{}, remoteHTTPError("upload file", resp)
	}

	var out []fileRef
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || len(out) == 0 {
		return fileRef{}, &RemoteError{Op: "upload file", Err: fmt.Errorf("bad upload response: %v", err)}
	}
	ref := out[0]
	if ref.MIME == "" {
		ref.MIME = up.MIME
	}
	if ref.Size == 0 {
		ref.Size = up.Size
	}
	return ref, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, u string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &RemoteError{Op: op, Err: fmt.Errorf("marshal: %w", err)}
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &RemoteError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteHTTPError(op, resp)
	}
	if out != nil && resp.ContentLength != 0 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func remoteHTTPError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &RemoteError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		Err:        fmt.Errorf("%s", bytes.TrimSpace(snippet)),
	}
}

// blockValue wraps a string the way the tasks API expects block payloads.
func blockValue(s string) map[string]interface{} {
	return map[string]interface{}{"value": s}
}

func attachmentBlock(refs []fileRef, target int) map[string]interface{} {
	files := make([]map[string]interface{}, 0, len(refs))
	for _, r := range refs {
		files = append(files, map[string]interface{}{
			"name":        r.Name,
			"id":          r.ID,
			"contentType": r.MIME,
			"size":        r.Size,
			"target":      target,
		})
	}
	return map[string]interface{}{
		"value": map[string]interface{}{
			"addFiles":      files,
			"deleteFileIds": []string{},
		},
	}
}

// encodeBlocks JSON-encodes each block value individually; the API takes a
// map of strings, not nested objects.
func encodeBlocks(blocks map[string]interface{}) map[string]string {
	out := make(map[string]string, len(blocks))
	for k, v := range blocks {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = string(data)
	}
	return out
}

// StatusFromFields extracts the status identifier from a Fields payload,
// tolerating the number, object, and escaped-JSON string forms the API
// produces.
func StatusFromFields(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Fields itself may be an escaped JSON string.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
		return StatusFromFields(json.RawMessage(s))
	}

	block, ok := fields["status"]
	if !ok {
		if block, ok = fields["Status"]; !ok {
			return 0, false
		}
	}
	return statusFromBlock(block)
}

func statusFromBlock(block json.RawMessage) (int, bool) {
	var n json.Number
	if err := json.Unmarshal(block, &n); err == nil {
		if id, err := strconv.Atoi(n.String()); err == nil {
			return id, true
		}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(block, &obj); err == nil {
		for _, k := range []string{"Id", "id", "Value", "value"} {
			if v, ok := obj[k]; ok {
				var n json.Number
				if err := json.Unmarshal(v, &n); err == nil {
					if id, err := strconv.Atoi(n.String()); err == nil {
						return id, true
					}
				}
			}
		}
	}
	var s string
	if err := json.Unmarshal(block, &s); err == nil && s != "" {
		return statusFromBlock(json.RawMessage(s))
	}
	return 0, false
}
