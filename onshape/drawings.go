// Copyright (C) 2025 FRC Team 3322
// Licensed under the MIT License. See LICENSE for details.

package onshape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/frc3322/Aerie-Part-Management/pkg/logging"
)

// ErrNotADrawingURL is returned when a URL does not point at an
// Onshape drawing element.
var ErrNotADrawingURL = errors.New("url is not an onshape drawing link")

// ErrTranslationFailed is returned when Onshape reports a translation
// job as failed.
var ErrTranslationFailed = errors.New("onshape translation failed")

// ErrTranslationTimeout is returned when a translation job does not
// finish within the polling window.
var ErrTranslationTimeout = errors.New("onshape translation timed out")

// drawingURLPattern matches document/workspace/element IDs in an
// Onshape drawing link, e.g.
// https://cad.onshape.com/documents/<did>/w/<wid>/e/<eid>.
var drawingURLPattern = regexp.MustCompile(`documents/([0-9a-fA-F]+)/w/([0-9a-fA-F]+)/e/([0-9a-fA-F]+)`)

// DrawingRef identifies one drawing element.
type DrawingRef struct {
	DocumentID  string
	WorkspaceID string
	ElementID   string
}

// ParseDrawingURL extracts the drawing reference from an Onshape URL.
func ParseDrawingURL(url string) (DrawingRef, error) {
	m := drawingURLPattern.FindStringSubmatch(url)
	if m == nil {
		return DrawingRef{}, ErrNotADrawingURL
	}
	return DrawingRef{DocumentID: m[1], WorkspaceID: m[2], ElementID: m[3]}, nil
}

const (
	defaultPollAttempts = 30
	defaultPollDelay    = 2 * time.Second
)

// DrawingClient exports drawings to PDF through Onshape's translation
// API: start a translation job, poll it to completion, download the
// result.
type DrawingClient struct {
	baseURL      string
	token        func(ctx context.Context) (string, error)
	basicUser    string
	basicPass    string
	httpClient   *http.Client
	log          *logging.Logger
	pollAttempts int
	pollDelay    time.Duration
}

// DrawingOption tweaks client construction.
type DrawingOption func(*DrawingClient)

// WithHTTPClient substitutes the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) DrawingOption {
	return func(dc *DrawingClient) { dc.httpClient = c }
}

// WithPolling overrides how long a translation is waited on.
func WithPolling(attempts int, delay time.Duration) DrawingOption {
	return func(dc *DrawingClient) {
		dc.pollAttempts = attempts
		dc.pollDelay = delay
	}
}

// WithDrawingLogger attaches a logger.
func WithDrawingLogger(log *logging.Logger) DrawingOption {
	return func(dc *DrawingClient) { dc.log = log }
}

// NewDrawingClient builds a client for the given API host. token is
// called before each request so a refreshed access token is picked up
// mid-export.
func NewDrawingClient(baseURL string, token func(ctx context.Context) (string, error), opts ...DrawingOption) (*DrawingClient, error) {
	if baseURL == "" {
		baseURL = "https://cad.onshape.com"
	}
	dc := &DrawingClient{
		baseURL:      baseURL,
		token:        token,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		log:          logging.Default(),
		pollAttempts: defaultPollAttempts,
		pollDelay:    defaultPollDelay,
	}
	for _, opt := range opts {
		opt(dc)
	}
	if dc.token == nil && dc.basicUser == "" {
		return nil, errors.New("drawing client needs a token source or api keys")
	}
	return dc, nil
}

// StaticToken adapts a fixed access token into a token source.
func StaticToken(accessToken string) func(ctx context.Context) (string, error) {
	return func(context.Context) (string, error) { return accessToken, nil }
}

// WithAPIKeys switches the client to Onshape API-key authentication
// (HTTP Basic with access:secret) instead of a bearer token. Used when
// no OAuth session exists but developer keys are configured.
func WithAPIKeys(accessKey, secretKey string) DrawingOption {
	return func(dc *DrawingClient) {
		dc.basicUser, dc.basicPass = accessKey, secretKey
	}
}

type translationRequest struct {
	FormatName        string `json:"formatName"`
	DestinationName   string `json:"destinationName"`
	CurrentSheetOnly  bool   `json:"currentSheetOnly"`
	SelectablePdfText bool   `json:"selectablePdfText"`
}

type translationStatus struct {
	ID                    string   `json:"id"`
	RequestState          string   `json:"requestState"`
	Href                  string   `json:"href"`
	FailureReason         string   `json:"failureReason"`
	DocumentID            string   `json:"documentId"`
	ResultExternalDataIDs []string `json:"resultExternalDataIds"`
	ResultElementIDs      []string `json:"resultElementIds"`
}

// ExportPDF translates one drawing element to PDF and returns the
// document bytes. It blocks until the translation finishes, fails, or
// the polling window closes.
func (dc *DrawingClient) ExportPDF(ctx context.Context, ref DrawingRef, destinationName string) ([]byte, error) {
	job, err := dc.startTranslation(ctx, ref, destinationName)
	if err != nil {
		return nil, err
	}
	dc.log.Info("onshape translation started",
		"document_id", ref.DocumentID, "element_id", ref.ElementID, "translation_id", job.ID)

	done, err := dc.awaitTranslation(ctx, job)
	if err != nil {
		return nil, err
	}
	return dc.downloadResult(ctx, ref, done)
}

// DownloadDrawingPDF parses an Onshape drawing URL and exports it.
func (dc *DrawingClient) DownloadDrawingPDF(ctx context.Context, drawingURL, destinationName string) ([]byte, error) {
	ref, err := ParseDrawingURL(drawingURL)
	if err != nil {
		return nil, err
	}
	return dc.ExportPDF(ctx, ref, destinationName)
}

func (dc *DrawingClient) startTranslation(ctx context.Context, ref DrawingRef, destinationName string) (*translationStatus, error) {
	if destinationName == "" {
		destinationName = "drawing.pdf"
	}
	body, err := json.Marshal(translationRequest{
		FormatName:        "PDF",
		DestinationName:   destinationName,
		SelectablePdfText: true,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/v6/drawings/d/%s/w/%s/e/%s/translations",
		dc.baseURL, ref.DocumentID, ref.WorkspaceID, ref.ElementID)
	var status translationStatus
	if err := dc.doJSON(ctx, http.MethodPost, url, bytes.NewReader(body), &status); err != nil {
		return nil, fmt.Errorf("starting translation: %w", err)
	}
	return &status, nil
}

// awaitTranslation polls the job's href until it leaves ACTIVE state.
func (dc *DrawingClient) awaitTranslation(ctx context.Context, job *translationStatus) (*translationStatus, error) {
	href := job.Href
	if href == "" {
		href = fmt.Sprintf("%s/api/v6/translations/%s", dc.baseURL, job.ID)
	}

	for attempt := 0; attempt < dc.pollAttempts; attempt++ {
		var status translationStatus
		if err := dc.doJSON(ctx, http.MethodGet, href, nil, &status); err != nil {
			return nil, fmt.Errorf("polling translation: %w", err)
		}

		switch status.RequestState {
		case "DONE":
			return &status, nil
		case "FAILED", "CANCELED":
			if status.FailureReason != "" {
				return nil, fmt.Errorf("%w: %s", ErrTranslationFailed, status.FailureReason)
			}
			return nil, ErrTranslationFailed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dc.pollDelay):
		}
	}
	return nil, ErrTranslationTimeout
}

// downloadResult fetches the finished PDF. Translations normally land
// as external data on the document; some return a blob element
// instead.
func (dc *DrawingClient) downloadResult(ctx context.Context, ref DrawingRef, status *translationStatus) ([]byte, error) {
	docID := status.DocumentID
	if docID == "" {
		docID = ref.DocumentID
	}

	var url string
	switch {
	case len(status.ResultExternalDataIDs) > 0:
		url = fmt.Sprintf("%s/api/externaldata/%s",
			dc.baseURL, status.ResultExternalDataIDs[0])
	case len(status.ResultElementIDs) > 0:
		url = fmt.Sprintf("%s/api/v6/blobelements/d/%s/w/%s/e/%s",
			dc.baseURL, docID, ref.WorkspaceID, status.ResultElementIDs[0])
	default:
		return nil, errors.New("translation finished without a downloadable result")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if err := dc.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := dc.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading translated pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("pdf download returned %d: %s", resp.StatusCode, snippet)
	}
	return io.ReadAll(resp.Body)
}

func (dc *DrawingClient) doJSON(ctx context.Context, method, url string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := dc.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := dc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("onshape returned %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (dc *DrawingClient) authorize(ctx context.Context, req *http.Request) error {
	if dc.basicUser != "" {
		req.SetBasicAuth(dc.basicUser, dc.basicPass)
		return nil
	}
	token, err := dc.token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// DrawingClientFor builds a DrawingClient for the session behind an
// app API key. Tokens within tokenExpirySkew of expiry are refreshed
// through the OAuth client before use and the refreshed tokens are
// stored back on the session.
func (m *Manager) DrawingClientFor(appAPIKey string, oauth *OAuthClient, opts ...DrawingOption) (*DrawingClient, error) {
	baseURL := "https://cad.onshape.com"
	if oauth != nil {
		baseURL = oauth.apiBaseURL
	}
	token := func(ctx context.Context) (string, error) {
		session, err := m.GetSession(ctx, appAPIKey)
		if err != nil {
			return "", err
		}
		if !m.IsTokenExpired(ctx, appAPIKey) {
			return session.AccessToken, nil
		}
		if oauth == nil || session.RefreshToken == "" {
			return "", errors.New("onshape token expired, reconnect required")
		}
		refreshed, err := oauth.Refresh(ctx, session.RefreshToken)
		if err != nil {
			return "", err
		}
		if err := m.UpdateTokens(ctx, appAPIKey, refreshed); err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}
	return NewDrawingClient(baseURL, token, opts...)
}
