// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package tableapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// RESTClient talks to the destination service's HTTP API.
type RESTClient struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

var _ Client = (*RESTClient)(nil)

// RESTOption is a functional option for NewRESTClient.
type RESTOption func(*RESTClient)

// WithHTTPClient overrides the HTTP client, mostly for tests.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTClient) {
		c.hc = hc
	}
}

func NewRESTClient(baseURL, apiKey string, opts ...RESTOption) *RESTClient {
	c := &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RESTClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (c *RESTClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, method, path, body, "application/json", out)
}

func (c *RESTClient) IsWritable(ctx context.Context) (bool, error) {
	var status struct {
		Writable bool `json:"writable"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/status", nil, &status); err != nil {
		return false, err
	}
	return status.Writable, nil
}

func (c *RESTClient) GetColumns(ctx context.Context, tableID string) ([]Column, error) {
	var out struct {
		Columns []Column `json:"columns"`
	}
	path := "/v1/tables/" + url.PathEscape(tableID) + "/columns"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Columns, nil
}

func (c *RESTClient) CreateColumns(ctx context.Context, columns []Column) ([]Column, error) {
	in := struct {
		Columns []Column `json:"columns"`
	}{Columns: columns}
	var out struct {
		Columns []Column `json:"columns"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/columns", in, &out); err != nil {
		return nil, err
	}
	return out.Columns, nil
}

func (c *RESTClient) CreateTable(ctx context.Context, name, parentProjectID string, columnIDs []string) (string, error) {
	in := struct {
		Name      string   `json:"name"`
		ParentID  string   `json:"parentId"`
		ColumnIDs []string `json:"columnIds"`
	}{Name: name, ParentID: parentProjectID, ColumnIDs: columnIDs}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/tables", in, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *RESTClient) SetAccessControl(ctx context.Context, tableID string, ownerPrincipal, readerTeam int64) error {
	in := struct {
		Grants []grant `json:"grants"`
	}{Grants: []grant{
		{PrincipalID: ownerPrincipal, AccessLevel: "FULL"},
		{PrincipalID: readerTeam, AccessLevel: "READ"},
	}}
	path := "/v1/tables/" + url.PathEscape(tableID) + "/acl"
	return c.doJSON(ctx, http.MethodPut, path, in, nil)
}

type grant struct {
	PrincipalID int64  `json:"principalId"`
	AccessLevel string `json:"accessLevel"`
}

func (c *RESTClient) Upload(ctx context.Context, projectID, tableID string, tsv io.Reader) (int64, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", tableID+".tsv")
	if err != nil {
		return 0, fmt.Errorf("build upload body: %w", err)
	}
	if _, err := io.Copy(part, tsv); err != nil {
		return 0, fmt.Errorf("stage upload body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("finish upload body: %w", err)
	}

	var out struct {
		LinesProcessed int64 `json:"linesProcessed"`
	}
	path := "/v1/tables/" + url.PathEscape(tableID) + "/upload?projectId=" + url.QueryEscape(projectID)
	if err := c.do(ctx, http.MethodPost, path, &buf, mw.FormDataContentType(), &out); err != nil {
		return 0, err
	}
	return out.LinesProcessed, nil
}
