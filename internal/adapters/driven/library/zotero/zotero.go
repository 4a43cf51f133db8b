// Package zotero implements the library source against the Zotero Web
// API v3. The reference manager stays the single owner of documents and
// tags; this adapter only reads items and flips workflow tags.
package zotero

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
	"time"

	"golang.org/x/time/rate"

	"github.com/refrab/refrab/internal/core/domain"
	"github.com/refrab/refrab/internal/core/ports/driven"
	"github.com/refrab/refrab/internal/logger"
)

// Ensure Client implements the interface.
var _ driven.LibrarySource = (*Client)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.zotero.org"
	DefaultTimeout = 30 * time.Second

	// DefaultRequestRate throttles API calls. Zotero asks clients to
	// respect Backoff headers; a steady low rate avoids them entirely.
	DefaultRequestRate = 4.0

	// pageLimit is the Zotero maximum page size.
	pageLimit = 100

	apiVersion = "3"
)

// Config holds credentials and tuning for the Zotero client.
type Config struct {
	// UserID is the numeric Zotero user (or group) identifier.
	UserID string

	// APIKey is the Zotero API key with library read/write access.
	APIKey string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration
}

// Client is a Zotero Web API client scoped to one user library.
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	userID  string
	apiKey  string
}

// NewClient creates a Zotero client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("%w: zotero user id required", domain.ErrInvalidInput)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: zotero api key required", domain.ErrInvalidInput)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(DefaultRequestRate), 1),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		userID:  cfg.UserID,
		apiKey:  cfg.APIKey,
	}, nil
}

// item is the Zotero API item envelope.
type item struct {
	Key     string   `json:"key"`
	Version int      `json:"version"`
	Data    itemData `json:"data"`
}

type itemData struct {
	Key         string    `json:"key"`
	Version     int       `json:"version"`
	ItemType    string    `json:"itemType"`
	Title       string    `json:"title"`
	Creators    []creator `json:"creators"`
	Date        string    `json:"date"`
	ContentType string    `json:"contentType"`
	Tags        []itemTag `json:"tags"`
	DateAdded   string    `json:"dateAdded"`
}

type creator struct {
	CreatorType string `json:"creatorType"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Name        string `json:"name"`
}

type itemTag struct {
	Tag string `json:"tag"`
}

// ListByTag returns all non-attachment items carrying the tag, paging
// through the library in the API's stable ordering.
func (c *Client) ListByTag(ctx context.Context, tag string) ([]domain.Document, error) {
	var docs []domain.Document

	for start := 0; ; start += pageLimit {
		q := url.Values{}
		q.Set("tag", tag)
		q.Set("itemType", "-attachment")
		q.Set("limit", strconv.Itoa(pageLimit))
		q.Set("start", strconv.Itoa(start))
		q.Set("sort", "dateAdded")
		q.Set("direction", "asc")

		var page []item
		total, err := c.getJSON(ctx, "/items?"+q.Encode(), &page)
		if err != nil {
			return nil, fmt.Errorf("list items by tag %q: %w", tag, err)
		}

		for i := range page {
			docs = append(docs, toDocument(&page[i]))
		}

		if start+pageLimit >= total || len(page) == 0 {
			break
		}
	}

	logger.Debug("Zotero: %d items with tag %q", len(docs), tag)
	return docs, nil
}

// GetItem returns the current state of a single item.
func (c *Client) GetItem(ctx context.Context, id string) (*domain.Document, error) {
	var it item
	if _, err := c.getJSON(ctx, "/items/"+url.PathEscape(id), &it); err != nil {
		return nil, fmt.Errorf("get item %s: %w", id, err)
	}
	doc := toDocument(&it)
	return &doc, nil
}

// AddTag adds a tag to an item. Adding an existing tag is a no-op.
func (c *Client) AddTag(ctx context.Context, id, tag string) error {
	return c.patchTags(ctx, id, func(tags []string) []string {
		for _, t := range tags {
			if t == tag {
				return tags
			}
		}
		return append(tags, tag)
	})
}

// RemoveTag removes a tag from an item. Removing an absent tag is a
// no-op.
func (c *Client) RemoveTag(ctx context.Context, id, tag string) error {
	return c.patchTags(ctx, id, func(tags []string) []string {
		out := tags[:0]
		for _, t := range tags {
			if t != tag {
				out = append(out, t)
			}
		}
		return out
	})
}

// patchTags rewrites the item's tag list with optimistic concurrency.
// A concurrent edit makes Zotero reject the version and surfaces as
// domain.ErrConflict.
func (c *Client) patchTags(ctx context.Context, id string, mutate func([]string) []string) error {
	var it item
	if _, err := c.getJSON(ctx, "/items/"+url.PathEscape(id), &it); err != nil {
		return fmt.Errorf("get item %s: %w", id, err)
	}

	tags := make([]string, 0, len(it.Data.Tags))
	for _, t := range it.Data.Tags {
		tags = append(tags, t.Tag)
	}
	updated := mutate(tags)

	patched := make([]itemTag, 0, len(updated))
	for _, t := range updated {
		patched = append(patched, itemTag{Tag: t})
	}
	body, err := json.Marshal(map[string]any{"tags": patched})
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		c.baseURL+"/users/"+c.userID+"/items/"+url.PathEscape(id), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("If-Unmodified-Since-Version", strconv.Itoa(it.Version))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusPreconditionFailed:
		return fmt.Errorf("item %s changed concurrently: %w", id, domain.ErrConflict)
	case http.StatusNotFound:
		return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	default:
		return apiError(resp)
	}
}

// FetchBytes downloads the PDF attachment of an item.
func (c *Client) FetchBytes(ctx context.Context, id string) ([]byte, error) {
	key, err := c.attachmentKey(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/users/"+c.userID+"/items/"+url.PathEscape(key)+"/file", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("attachment %s: %w", key, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", key, err)
	}
	logger.Debug("Zotero: fetched %d bytes for item %s", len(data), id)
	return data, nil
}

// attachmentKey resolves the first PDF attachment child of the item.
func (c *Client) attachmentKey(ctx context.Context, id string) (string, error) {
	var children []item
	if _, err := c.getJSON(ctx, "/items/"+url.PathEscape(id)+"/children", &children); err != nil {
		return "", fmt.Errorf("list children of %s: %w", id, err)
	}

	for i := range children {
		d := &children[i].Data
		if d.ItemType == "attachment" && d.ContentType == "application/pdf" {
			return children[i].Key, nil
		}
	}
	return "", fmt.Errorf("item %s has no pdf attachment: %w", id, domain.ErrNotFound)
}

// getJSON performs a GET under the user prefix and decodes the body.
// Returns the Total-Results count for paginated endpoints.
func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/"+c.userID+path, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	total, _ := strconv.Atoi(resp.Header.Get("Total-Results"))
	return total, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Zotero-API-Key", c.apiKey)
	req.Header.Set("Zotero-API-Version", apiVersion)
}

func apiError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("zotero error (status %d): failed to read response", resp.StatusCode)
	}
	return fmt.Errorf("zotero error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// toDocument maps a Zotero item onto the domain document.
func toDocument(it *item) domain.Document {
	d := &it.Data

	authors := make([]string, 0, len(d.Creators))
	for _, cr := range d.Creators {
		switch {
		case cr.Name != "":
			authors = append(authors, cr.Name)
		case cr.LastName != "" && cr.FirstName != "":
			authors = append(authors, cr.FirstName+" "+cr.LastName)
		case cr.LastName != "":
			authors = append(authors, cr.LastName)
		}
	}

	tags := make([]string, 0, len(d.Tags))
	for _, t := range d.Tags {
		tags = append(tags, t.Tag)
	}

	var added time.Time
	if t, err := time.Parse(time.RFC3339, d.DateAdded); err == nil {
		added = t
	}

	return domain.Document{
		ID:      it.Key,
		Title:   d.Title,
		Authors: authors,
		Year:    parseYear(d.Date),
		Tags:    tags,
		AddedAt: added,
	}
}

// parseYear pulls a four-digit year out of Zotero's free-form date field.
func parseYear(date string) int {
	for i := 0; i+4 <= len(date); i++ {
		if y, err := strconv.Atoi(date[i : i+4]); err == nil && y >= 1000 && y <= 9999 {
			return y
		}
	}
	return 0
}
