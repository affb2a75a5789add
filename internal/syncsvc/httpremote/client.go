// Package httpremote implements the sync remote over plain HTTP. Worlds live
// at {base}/worlds/{id}; payloads above the compression threshold travel
// deflate-encoded.
package httpremote

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/louisbranch/worldvault/internal/codec"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/platform/timeouts"
	"github.com/louisbranch/worldvault/internal/syncsvc"
	"github.com/louisbranch/worldvault/internal/world"
)

const versionHeader = "X-World-Version"

// Client talks to a world sync endpoint.
type Client struct {
	baseURL   string
	http      *http.Client
	threshold int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient injects the transport. Tests pass the httptest client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithThreshold sets the payload size above which uploads are deflated.
func WithThreshold(threshold int) Option {
	return func(c *Client) {
		if threshold > 0 {
			c.threshold = threshold
		}
	}
}

// New creates a client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{},
		threshold: codec.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ syncsvc.Remote = (*Client)(nil)

func (c *Client) worldURL(worldID string) string {
	return c.baseURL + "/worlds/" + url.PathEscape(worldID)
}

// FetchWorld downloads the remote copy. A 404 means the world was never
// uploaded and is not an error.
func (c *Client) FetchWorld(ctx context.Context, worldID string) (world.World, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.RemoteFetch)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.worldURL(worldID), nil)
	if err != nil {
		return world.World{}, false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return world.World{}, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return world.World{}, false, nil
	default:
		return world.World{}, false, fmt.Errorf("fetch world %s: unexpected status %d", worldID, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return world.World{}, false, err
	}
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "deflate") {
		body, err = inflate(body)
		if err != nil {
			return world.World{}, false, apperrors.Wrap(apperrors.CodeCorruptPayload, "inflate remote world", err)
		}
	}

	var w world.World
	if err := json.Unmarshal(body, &w); err != nil {
		return world.World{}, false, apperrors.Wrap(apperrors.CodeCorruptPayload, "decode remote world", err)
	}
	if header := resp.Header.Get(versionHeader); header != "" {
		version, err := strconv.ParseInt(header, 10, 64)
		if err == nil && version != w.Version {
			return world.World{}, false, apperrors.WithMetadata(apperrors.CodeWorldVersionInvalid,
				"remote version header disagrees with payload",
				map[string]string{
					"world_id": worldID,
					"header":   header,
					"payload":  strconv.FormatInt(w.Version, 10),
				})
		}
	}
	return w, true, nil
}

// PushWorld uploads a world, deflating the body above the threshold.
func (c *Client) PushWorld(ctx context.Context, w world.World) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.RemotePush)
	defer cancel()

	doc, err := json.Marshal(w)
	if err != nil {
		return err
	}

	body := doc
	encoding := ""
	if len(doc) > c.threshold {
		body, err = deflateBytes(doc)
		if err != nil {
			return err
		}
		encoding = "deflate"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.worldURL(w.ID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(versionHeader, strconv.FormatInt(w.Version, 10))
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("push world %s: unexpected status %d", w.ID, resp.StatusCode)
	}
}

func deflateBytes(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, err
	}
	if err := fw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(payload []byte) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(payload))
	defer fr.Close()
	return io.ReadAll(fr)
}
