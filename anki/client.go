//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Package anki provides a typed client for the AnkiConnect flashcard
// service and the tool set exposed to the language model.
package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// Protocol constants.
const (
	// apiVersion is the AnkiConnect protocol version.
	apiVersion = 6

	// defaultBaseURL is the standard local AnkiConnect endpoint.
	defaultBaseURL = "http://localhost:8765"

	// defaultTimeout bounds a single service call.
	defaultTimeout = 10 * time.Second
	// healthTimeout bounds the health probe.
	healthTimeout = 5 * time.Second
)

// ErrServiceUnavailable indicates the flashcard service could not be
// reached. Transport-level and retriable.
var ErrServiceUnavailable = errors.New("flashcard service unavailable")

// ProtocolError is an error reported by the flashcard service itself.
// Not retriable; the message propagates verbatim to the caller.
type ProtocolError struct {
	Action  string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("flashcard service error on %s: %s", e.Action, e.Message)
}

// Client talks to an AnkiConnect endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the service endpoint. Defaults to the
// ANKI_CONNECT_URL environment variable, then the standard local port.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a flashcard service client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	if url := os.Getenv("ANKI_CONNECT_URL"); url != "" {
		c.baseURL = url
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// Invoke performs one action against the service and decodes the result
// into out when out is non-nil.
func (c *Client) Invoke(ctx context.Context, action string, params any, out any) error {
	body, err := json.Marshal(request{Action: action, Version: apiVersion, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, action, err)
	}
	defer resp.Body.Close()

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrServiceUnavailable, action, err)
	}
	if decoded.Error != nil && *decoded.Error != "" {
		return &ProtocolError{Action: action, Message: *decoded.Error}
	}
	if out != nil && len(decoded.Result) > 0 && string(decoded.Result) != "null" {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", action, err)
		}
	}
	return nil
}

// Version returns the service protocol version. Used as a health probe
// with a tightened timeout.
func (c *Client) Version(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	var version int
	if err := c.Invoke(ctx, "version", nil, &version); err != nil {
		return 0, err
	}
	return version, nil
}

// DeckNames lists the deck names.
func (c *Client) DeckNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.Invoke(ctx, "deckNames", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// CreateDeck creates a deck and returns its id.
func (c *Client) CreateDeck(ctx context.Context, name string) (int64, error) {
	var id int64
	err := c.Invoke(ctx, "createDeck", map[string]any{"deck": name}, &id)
	return id, err
}

// DeleteDecks deletes decks. cardsToo controls whether their cards are
// removed as well.
func (c *Client) DeleteDecks(ctx context.Context, names []string, cardsToo bool) error {
	return c.Invoke(ctx, "deleteDecks", map[string]any{
		"decks":    names,
		"cardsToo": cardsToo,
	}, nil)
}

// DeckStats holds review statistics of one deck.
type DeckStats struct {
	DeckID      int64  `json:"deck_id"`
	Name        string `json:"name"`
	NewCount    int    `json:"new_count"`
	LearnCount  int    `json:"learn_count"`
	ReviewCount int    `json:"review_count"`
	TotalInDeck int    `json:"total_in_deck"`
}

// GetDeckStats returns statistics for the named decks, keyed by deck id.
func (c *Client) GetDeckStats(ctx context.Context, decks []string) (map[string]DeckStats, error) {
	var stats map[string]DeckStats
	if err := c.Invoke(ctx, "getDeckStats", map[string]any{"decks": decks}, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Note is a note to add to a deck.
type Note struct {
	DeckName  string            `json:"deckName"`
	ModelName string            `json:"modelName"`
	Fields    map[string]string `json:"fields"`
	Tags      []string          `json:"tags,omitempty"`
	Options   map[string]any    `json:"options,omitempty"`
}

// AddNote adds a note and returns the new note id.
func (c *Client) AddNote(ctx context.Context, note Note) (int64, error) {
	if note.Options == nil {
		note.Options = map[string]any{"allowDuplicate": false}
	}
	var id int64
	err := c.Invoke(ctx, "addNote", map[string]any{"note": note}, &id)
	return id, err
}

// FindNotes returns the note ids matching an Anki search query.
func (c *Client) FindNotes(ctx context.Context, query string) ([]int64, error) {
	var ids []int64
	if err := c.Invoke(ctx, "findNotes", map[string]any{"query": query}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// NoteInfo is the detail of one note.
type NoteInfo struct {
	NoteID    int64                `json:"noteId"`
	ModelName string               `json:"modelName"`
	Tags      []string             `json:"tags"`
	Fields    map[string]NoteField `json:"fields"`
}

// NoteField is one field of a note.
type NoteField struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

// NotesInfo returns details for the given note ids.
func (c *Client) NotesInfo(ctx context.Context, ids []int64) ([]NoteInfo, error) {
	var notes []NoteInfo
	if err := c.Invoke(ctx, "notesInfo", map[string]any{"notes": ids}, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// DeleteNotes removes notes by id.
func (c *Client) DeleteNotes(ctx context.Context, ids []int64) error {
	return c.Invoke(ctx, "deleteNotes", map[string]any{"notes": ids}, nil)
}

// UpdateNoteFields updates fields of an existing note.
func (c *Client) UpdateNoteFields(ctx context.Context, id int64, fields map[string]string) error {
	return c.Invoke(ctx, "updateNoteFields", map[string]any{
		"note": map[string]any{"id": id, "fields": fields},
	}, nil)
}

// FindCards returns the card ids matching an Anki search query.
func (c *Client) FindCards(ctx context.Context, query string) ([]int64, error) {
	var ids []int64
	if err := c.Invoke(ctx, "findCards", map[string]any{"query": query}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// CardInfo is the detail of one card.
type CardInfo struct {
	CardID   int64  `json:"cardId"`
	NoteID   int64  `json:"note"`
	DeckName string `json:"deckName"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Due      int64  `json:"due"`
	Interval int    `json:"interval"`
}

// CardsInfo returns details for the given card ids.
func (c *Client) CardsInfo(ctx context.Context, ids []int64) ([]CardInfo, error) {
	var cards []CardInfo
	if err := c.Invoke(ctx, "cardsInfo", map[string]any{"cards": ids}, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// CardAnswer grades one card.
type CardAnswer struct {
	CardID int64 `json:"cardId"`
	Ease   int   `json:"ease"`
}

// AnswerCards grades cards and returns one success flag per answer.
func (c *Client) AnswerCards(ctx context.Context, answers []CardAnswer) ([]bool, error) {
	var ok []bool
	if err := c.Invoke(ctx, "answerCards", map[string]any{"answers": answers}, &ok); err != nil {
		return nil, err
	}
	return ok, nil
}

// RelearnCards puts cards back into the learning queue so they can be
// graded immediately.
func (c *Client) RelearnCards(ctx context.Context, ids []int64) error {
	return c.Invoke(ctx, "relearnCards", map[string]any{"cards": ids}, nil)
}

// StoreMediaFile downloads the file at url into the media collection
// under filename.
func (c *Client) StoreMediaFile(ctx context.Context, filename, url string) error {
	return c.Invoke(ctx, "storeMediaFile", map[string]any{
		"filename": filename,
		"url":      url,
	}, nil)
}
