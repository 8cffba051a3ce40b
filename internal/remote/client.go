// Package remote is the client for the remote catalog API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"catalog-sync-service/internal/catalog"
	"catalog-sync-service/internal/config"
	"catalog-sync-service/internal/logger"
)

const maxResponseBytes = 32 << 20

// Client is stateless apart from its configuration; it never retries.
type Client struct {
	baseURL    string
	apiVersion string
	tokens     TokenProvider
	httpClient *http.Client
}

func NewClient(cfg config.RemoteConfig, tokens TokenProvider) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		tokens:     tokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// List returns one page of every object of the given types.
func (c *Client) List(ctx context.Context, cursor string, types []catalog.ObjectType) (*Page, error) {
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(types) > 0 {
		params.Set("types", strings.Join(catalog.TypeNames(types), ","))
	}

	path := "/v2/catalog/list"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var page Page
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Search returns one page of objects changed at or after beginTime, tombstones included.
func (c *Client) Search(ctx context.Context, beginTime, cursor string, types []catalog.ObjectType) (*Page, error) {
	req := searchRequest{
		Cursor:                cursor,
		BeginTime:             beginTime,
		ObjectTypes:           catalog.TypeNames(types),
		IncludeDeletedObjects: true,
	}

	var page Page
	if err := c.doJSON(ctx, http.MethodPost, "/v2/catalog/search", req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) RetrieveObject(ctx context.Context, id string) (*RetrieveResult, error) {
	path := fmt.Sprintf("/v2/catalog/object/%s?include_related_objects=true", url.PathEscape(id))

	var res RetrieveResult
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	if res.Object == nil {
		return nil, &Error{Kind: KindDecoding, Detail: "response carries no object"}
	}
	return &res, nil
}

// UpsertObject creates or updates obj. The same idempotencyKey must be reused
// when retrying the same logical write.
func (c *Client) UpsertObject(ctx context.Context, obj *catalog.CatalogObject, idempotencyKey string) (*UpsertResult, error) {
	req := upsertRequest{IdempotencyKey: idempotencyKey, Object: obj}

	var res UpsertResult
	if err := c.doJSON(ctx, http.MethodPost, "/v2/catalog/object", req, &res); err != nil {
		return nil, err
	}
	if res.Object == nil {
		return nil, &Error{Kind: KindDecoding, Detail: "response carries no catalog_object"}
	}
	return &res, nil
}

// DeleteObject deletes id and every object the remote cascades the delete to.
func (c *Client) DeleteObject(ctx context.Context, id string) (*DeleteResult, error) {
	path := "/v2/catalog/object/" + url.PathEscape(id)

	var res DeleteResult
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateImage uploads an image as a multipart request and returns the IMAGE object.
func (c *Client) CreateImage(ctx context.Context, idempotencyKey string, img ImageUpload) (*catalog.CatalogObject, error) {
	meta := imageRequest{
		IdempotencyKey: idempotencyKey,
		ObjectID:       img.ObjectID,
		Image: &catalog.CatalogObject{
			Type:      catalog.TypeImage,
			ID:        catalog.NewTempID(),
			ImageData: &catalog.ImageData{Name: img.Name, Caption: img.Caption},
		},
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image request: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	reqHeader := make(textproto.MIMEHeader)
	reqHeader.Set("Content-Disposition", `form-data; name="request"`)
	reqHeader.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(reqHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(metaJSON); err != nil {
		return nil, err
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	filename := img.Filename
	if filename == "" {
		filename = "image"
	}
	fileHeader := make(textproto.MIMEHeader)
	fileHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image_file"; filename=%q`, filename))
	fileHeader.Set("Content-Type", contentType)
	part, err = mw.CreatePart(fileHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var res imageResponse
	if err := c.do(ctx, http.MethodPost, "/v2/catalog/images", mw.FormDataContentType(), body.Bytes(), &res); err != nil {
		return nil, err
	}
	if res.Image == nil {
		return nil, &Error{Kind: KindDecoding, Detail: "response carries no image"}
	}
	return res.Image, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return c.do(ctx, method, path, "application/json", payload, out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte, out any) error {
	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return &Error{Kind: KindAuthentication, Detail: "token provider failed", Err: err}
	}
	if token == "" {
		return &Error{Kind: KindAuthentication, Detail: "no access token available"}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.apiVersion != "" {
		req.Header.Set("Square-Version", c.apiVersion)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Kind: KindNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	logger.Log.Debug("Remote catalog call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindDecoding, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}
