// Package syncclient keeps a local copy of a session's presentation state in
// step with the session service, as host (single writer) or participant
// (polling reader).
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"training-sync-service/internal/content"
	"training-sync-service/internal/domain"
)

const defaultRequestTimeout = 10 * time.Second

// StatusError is a non-2xx answer from the session service.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("session service returned %d", e.Status)
	}
	return fmt.Sprintf("session service returned %d: %s", e.Status, e.Message)
}

// Unwrap exposes the domain error matching the status, so callers can use
// errors.Is against domain sentinels.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrSessionNotFound
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	default:
		return nil
	}
}

// Created is the answer to a session creation.
type Created struct {
	Code      string                   `json:"code"`
	State     domain.PresentationState `json:"state"`
	HostToken string                   `json:"hostToken"`
}

// PresenceSummary is the answer of the presence endpoint.
type PresenceSummary struct {
	Active int `json:"active"`
	Total  int `json:"total"`
}

// API is a thin client of the session service HTTP surface.
type API struct {
	baseURL string
	client  *http.Client
}

func NewAPI(baseURL string, client *http.Client) *API {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &API{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (a *API) CreateSession(ctx context.Context, initial *domain.PresentationState, hostPassword string) (Created, error) {
	var out Created
	headers := map[string]string{}
	if hostPassword != "" {
		headers["X-Host-Password"] = hostPassword
	}
	err := a.do(ctx, http.MethodPost, "/sessions", headers, map[string]any{"initialState": initial}, &out)
	return out, err
}

func (a *API) GetSession(ctx context.Context, code string) (domain.Session, error) {
	var out domain.Session
	err := a.do(ctx, http.MethodGet, sessionPath(code), nil, nil, &out)
	return out, err
}

func (a *API) ReplaceState(ctx context.Context, code, hostToken string, state domain.PresentationState) error {
	headers := map[string]string{"Authorization": "Bearer " + hostToken}
	return a.do(ctx, http.MethodPut, sessionPath(code), headers, map[string]any{"state": state}, nil)
}

func (a *API) RegisterParticipant(ctx context.Context, code string, participant domain.Participant) ([]domain.Participant, error) {
	var out struct {
		Participants []domain.Participant `json:"participants"`
	}
	err := a.do(ctx, http.MethodPost, sessionPath(code)+"/participants", nil, participant, &out)
	return out.Participants, err
}

func (a *API) RemoveParticipant(ctx context.Context, code, participantID string) error {
	return a.do(ctx, http.MethodDelete, sessionPath(code)+"/participants/"+url.PathEscape(participantID), nil, nil, nil)
}

func (a *API) ListParticipants(ctx context.Context, code string) ([]domain.Participant, error) {
	var out struct {
		Participants []domain.Participant `json:"participants"`
	}
	err := a.do(ctx, http.MethodGet, sessionPath(code)+"/participants", nil, nil, &out)
	return out.Participants, err
}

func (a *API) Presence(ctx context.Context, code string) (PresenceSummary, error) {
	var out PresenceSummary
	err := a.do(ctx, http.MethodGet, sessionPath(code)+"/presence", nil, nil, &out)
	return out, err
}

func (a *API) AddScore(ctx context.Context, code string, score domain.ScoreEntry) ([]domain.ScoreEntry, error) {
	var out struct {
		Scores []domain.ScoreEntry `json:"scores"`
	}
	err := a.do(ctx, http.MethodPost, sessionPath(code)+"/scores", nil, score, &out)
	return out.Scores, err
}

func (a *API) ListScores(ctx context.Context, code string) ([]domain.ScoreEntry, error) {
	var out struct {
		Scores []domain.ScoreEntry `json:"scores"`
	}
	err := a.do(ctx, http.MethodGet, sessionPath(code)+"/scores", nil, nil, &out)
	return out.Scores, err
}

// Content fetches the course, with the session's overrides applied when code is set.
func (a *API) Content(ctx context.Context, code string) (content.Content, error) {
	path := "/content"
	if code != "" {
		path += "?code=" + url.QueryEscape(code)
	}
	var out content.Content
	err := a.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

func (a *API) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload)
		return &StatusError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// isUnreachable reports whether err means the service could not be reached
// at all, as opposed to answering with an error status.
func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

func sessionPath(code string) string {
	return "/sessions/" + url.PathEscape(code)
}
