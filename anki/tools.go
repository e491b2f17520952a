//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

package anki

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/rumycoding/kotori/log"
	"github.com/rumycoding/kotori/tool"
	"github.com/rumycoding/kotori/tool/function"
)

// Tool names.
const (
	ToolAddFlashcard      = "add_flashcard"
	ToolGetDecks          = "get_decks"
	ToolCheckService      = "check_service"
	ToolQueryNotes        = "query_notes"
	ToolGetNote           = "get_note"
	ToolSearchNotes       = "search_notes"
	ToolDeleteNotes       = "delete_notes"
	ToolCreateDeck        = "create_deck"
	ToolDeleteDeck        = "delete_deck"
	ToolDeckStats         = "deck_stats"
	ToolFindCardsForStudy = "find_cards_for_study"
	ToolAnswerCard        = "answer_card"
	ToolAnswerCards       = "answer_cards"
	ToolRelearnCards      = "relearn_cards"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// StripHTML removes HTML markup from card text.
func StripHTML(s string) string {
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	return strings.TrimSpace(s)
}

// Tools builds the full flashcard tool set backed by the client. Every
// tool returns a string for the model; service failures become error
// strings in the result rather than node aborts.
func Tools(client *Client) map[string]tool.Tool {
	tools := []tool.CallableTool{
		newAddFlashcardTool(client),
		newGetDecksTool(client),
		newCheckServiceTool(client),
		newQueryNotesTool(client),
		newGetNoteTool(client),
		newSearchNotesTool(client),
		newDeleteNotesTool(client),
		newCreateDeckTool(client),
		newDeleteDeckTool(client),
		newDeckStatsTool(client),
		newFindCardsForStudyTool(client),
		newAnswerCardTool(client),
		newAnswerCardsTool(client),
		newRelearnCardsTool(client),
	}
	result := make(map[string]tool.Tool, len(tools))
	for _, t := range tools {
		result[t.Declaration().Name] = t
	}
	return result
}

type addFlashcardArgs struct {
	Front    string   `json:"front" description:"Front side of the card, the prompt"`
	Back     string   `json:"back" description:"Back side of the card, the answer"`
	Deck     string   `json:"deck" description:"Deck to add the card to"`
	Tags     []string `json:"tags,omitempty" description:"Optional tags for the note"`
	AudioURL string   `json:"audio_url,omitempty" description:"Optional URL of a pronunciation audio clip for the back side"`
}

func newAddFlashcardTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args addFlashcardArgs) (string, error) {
			note := Note{
				DeckName:  args.Deck,
				ModelName: "Basic",
				Fields: map[string]string{
					"Front": args.Front,
					"Back":  args.Back,
				},
				Tags: args.Tags,
			}
			id, err := client.AddNote(ctx, note)
			if err != nil {
				return toolError(err), nil
			}
			if args.AudioURL != "" {
				filename := fmt.Sprintf("kotori_%s.mp3", uuid.New().String())
				if err := client.StoreMediaFile(ctx, filename, args.AudioURL); err != nil {
					log.Warnf("store audio for note %d: %v", id, err)
				} else if err := client.UpdateNoteFields(ctx, id, map[string]string{
					"Back": fmt.Sprintf("%s [sound:%s]", args.Back, filename),
				}); err != nil {
					log.Warnf("attach audio to note %d: %v", id, err)
				}
			}
			return fmt.Sprintf("Successfully added flashcard to deck '%s' (note id %d)", args.Deck, id), nil
		},
		function.WithName(ToolAddFlashcard),
		function.WithDescription("Add a new flashcard with a front and back side to an Anki deck. Optionally attach tags and a pronunciation audio URL."),
	)
}

type emptyArgs struct{}

func newGetDecksTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, _ emptyArgs) (string, error) {
			names, err := client.DeckNames(ctx)
			if err != nil {
				return toolError(err), nil
			}
			if len(names) == 0 {
				return "No decks found", nil
			}
			return "Available decks: " + strings.Join(names, ", "), nil
		},
		function.WithName(ToolGetDecks),
		function.WithDescription("List the names of all available Anki decks."),
	)
}

func newCheckServiceTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, _ emptyArgs) (string, error) {
			version, err := client.Version(ctx)
			if err != nil {
				return toolError(err), nil
			}
			return fmt.Sprintf("Anki service is available (protocol version %d)", version), nil
		},
		function.WithName(ToolCheckService),
		function.WithDescription("Check whether the Anki flashcard service is reachable."),
	)
}

type queryNotesArgs struct {
	Query    string   `json:"query" description:"Anki search query, e.g. 'deck:Japanese tag:verb'"`
	Deck     string   `json:"deck,omitempty" description:"Restrict the search to this deck"`
	NoteType string   `json:"note_type,omitempty" description:"Restrict the search to this note type"`
	Tags     []string `json:"tags,omitempty" description:"Restrict the search to notes with these tags"`
	Limit    int      `json:"limit" description:"Maximum number of notes to return"`
}

func newQueryNotesTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args queryNotesArgs) (string, error) {
			query := args.Query
			if args.Deck != "" {
				query += fmt.Sprintf(" deck:\"%s\"", args.Deck)
			}
			if args.NoteType != "" {
				query += fmt.Sprintf(" note:\"%s\"", args.NoteType)
			}
			for _, tag := range args.Tags {
				query += fmt.Sprintf(" tag:\"%s\"", tag)
			}
			return findAndRenderNotes(ctx, client, strings.TrimSpace(query), args.Limit)
		},
		function.WithName(ToolQueryNotes),
		function.WithDescription("Search Anki notes with a raw query plus optional deck, note type and tag filters."),
	)
}

type getNoteArgs struct {
	ID int64 `json:"id" description:"Note id"`
}

func newGetNoteTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args getNoteArgs) (string, error) {
			notes, err := client.NotesInfo(ctx, []int64{args.ID})
			if err != nil {
				return toolError(err), nil
			}
			if len(notes) == 0 || notes[0].NoteID == 0 {
				return fmt.Sprintf("Note %d not found", args.ID), nil
			}
			return renderNote(notes[0]), nil
		},
		function.WithName(ToolGetNote),
		function.WithDescription("Fetch one Anki note by its id."),
	)
}

type searchNotesArgs struct {
	Content string `json:"content" description:"Text to search for in note fields"`
	Limit   int    `json:"limit" description:"Maximum number of notes to return"`
}

func newSearchNotesTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args searchNotesArgs) (string, error) {
			return findAndRenderNotes(ctx, client, fmt.Sprintf("\"%s\"", args.Content), args.Limit)
		},
		function.WithName(ToolSearchNotes),
		function.WithDescription("Search Anki notes whose content contains the given text."),
	)
}

type deleteNotesArgs struct {
	IDs []int64 `json:"ids" description:"Note ids to delete"`
}

func newDeleteNotesTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args deleteNotesArgs) (string, error) {
			if len(args.IDs) == 0 {
				return "No note ids given", nil
			}
			if err := client.DeleteNotes(ctx, args.IDs); err != nil {
				return toolError(err), nil
			}
			return fmt.Sprintf("Deleted %d note(s)", len(args.IDs)), nil
		},
		function.WithName(ToolDeleteNotes),
		function.WithDescription("Delete Anki notes by id."),
	)
}

type createDeckArgs struct {
	Name string `json:"name" description:"Name of the deck to create"`
}

func newCreateDeckTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args createDeckArgs) (string, error) {
			id, err := client.CreateDeck(ctx, args.Name)
			if err != nil {
				return toolError(err), nil
			}
			return fmt.Sprintf("Created deck '%s' (id %d)", args.Name, id), nil
		},
		function.WithName(ToolCreateDeck),
		function.WithDescription("Create a new Anki deck."),
	)
}

type deleteDeckArgs struct {
	Name     string `json:"name" description:"Name of the deck to delete"`
	CardsToo bool   `json:"cards_too" description:"Also delete the cards in the deck"`
}

func newDeleteDeckTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args deleteDeckArgs) (string, error) {
			if err := client.DeleteDecks(ctx, []string{args.Name}, args.CardsToo); err != nil {
				return toolError(err), nil
			}
			return fmt.Sprintf("Deleted deck '%s'", args.Name), nil
		},
		function.WithName(ToolDeleteDeck),
		function.WithDescription("Delete an Anki deck, optionally together with its cards."),
	)
}

type deckStatsArgs struct {
	Name string `json:"name" description:"Name of the deck"`
}

func newDeckStatsTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args deckStatsArgs) (string, error) {
			stats, err := client.GetDeckStats(ctx, []string{args.Name})
			if err != nil {
				return toolError(err), nil
			}
			for _, s := range stats {
				if s.Name == args.Name {
					return fmt.Sprintf(
						"Deck '%s': %d new, %d learning, %d review, %d total",
						s.Name, s.NewCount, s.LearnCount, s.ReviewCount, s.TotalInDeck), nil
				}
			}
			return fmt.Sprintf("Deck '%s' not found", args.Name), nil
		},
		function.WithName(ToolDeckStats),
		function.WithDescription("Get review statistics for an Anki deck."),
	)
}

type findCardsForStudyArgs struct {
	Deck  string `json:"deck,omitempty" description:"Deck to pick cards from"`
	Limit int    `json:"limit" description:"Maximum number of cards to return"`
}

func newFindCardsForStudyTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args findCardsForStudyArgs) (string, error) {
			return FindCardsForStudy(ctx, client, args.Deck, args.Limit)
		},
		function.WithName(ToolFindCardsForStudy),
		function.WithDescription("Find flashcards that are due for study, preferring due cards, then learning, then review cards."),
	)
}

// FindCardsForStudy picks candidate cards for a study round, walking a
// priority ladder of queries until one matches.
func FindCardsForStudy(ctx context.Context, client *Client, deck string, limit int) (string, error) {
	if limit <= 0 {
		limit = 1
	}
	deckFilter := ""
	if deck != "" {
		deckFilter = fmt.Sprintf("deck:\"%s\"", deck)
	}
	queries := []string{
		strings.TrimSpace(deckFilter + " is:due"),
		strings.TrimSpace(deckFilter + " is:learn"),
		strings.TrimSpace(deckFilter + " is:review"),
		strings.TrimSpace(deckFilter),
	}

	var ids []int64
	for _, query := range queries {
		if query == "" {
			query = "deck:*"
		}
		found, err := client.FindCards(ctx, query)
		if err != nil {
			return toolError(err), nil
		}
		if len(found) > 0 {
			ids = found
			break
		}
	}
	if len(ids) == 0 {
		return "No cards found", nil
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	cards, err := client.CardsInfo(ctx, ids)
	if err != nil {
		return toolError(err), nil
	}
	var sb strings.Builder
	for i, card := range cards {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "ID: %d\nQuestion: %s\nAnswer: %s",
			card.CardID, StripHTML(card.Question), StripHTML(card.Answer))
	}
	return sb.String(), nil
}

type answerCardArgs struct {
	CardID int64 `json:"card_id" description:"Card id to grade"`
	Ease   int   `json:"ease" description:"Grade from 1 (again) to 4 (easy)"`
}

func newAnswerCardTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args answerCardArgs) (string, error) {
			return answerOne(ctx, client, args.CardID, args.Ease), nil
		},
		function.WithName(ToolAnswerCard),
		function.WithDescription("Grade a single flashcard with an ease from 1 (again) to 4 (easy)."),
	)
}

type answerCardsArgs struct {
	Answers []CardAnswer `json:"answers" description:"Cards to grade with their ease values"`
}

func newAnswerCardsTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args answerCardsArgs) (string, error) {
			if len(args.Answers) == 0 {
				return "No answers given", nil
			}
			ok, err := client.AnswerCards(ctx, args.Answers)
			if err != nil {
				return toolError(err), nil
			}
			graded := 0
			for _, v := range ok {
				if v {
					graded++
				}
			}
			return fmt.Sprintf("Graded %d of %d card(s)", graded, len(args.Answers)), nil
		},
		function.WithName(ToolAnswerCards),
		function.WithDescription("Grade multiple flashcards at once."),
	)
}

type relearnCardsArgs struct {
	IDs []int64 `json:"ids" description:"Card ids to move back into the learning queue"`
}

func newRelearnCardsTool(client *Client) tool.CallableTool {
	return function.NewFunctionTool(
		func(ctx context.Context, args relearnCardsArgs) (string, error) {
			if len(args.IDs) == 0 {
				return "No card ids given", nil
			}
			if err := client.RelearnCards(ctx, args.IDs); err != nil {
				return toolError(err), nil
			}
			return fmt.Sprintf("Moved %d card(s) into the learning queue", len(args.IDs)), nil
		},
		function.WithName(ToolRelearnCards),
		function.WithDescription("Move flashcards back into the learning queue so they can be graded immediately."),
	)
}

func answerOne(ctx context.Context, client *Client, cardID int64, ease int) string {
	if ease < 1 || ease > 4 {
		return fmt.Sprintf("Error: ease %d out of range 1-4", ease)
	}
	ok, err := client.AnswerCards(ctx, []CardAnswer{{CardID: cardID, Ease: ease}})
	if err != nil {
		return toolError(err)
	}
	if len(ok) == 0 || !ok[0] {
		return fmt.Sprintf("Card %d could not be graded, it may not be due", cardID)
	}
	return fmt.Sprintf("Graded card %d with ease %d", cardID, ease)
}

func findAndRenderNotes(ctx context.Context, client *Client, query string, limit int) (string, error) {
	if limit <= 0 {
		limit = 10
	}
	ids, err := client.FindNotes(ctx, query)
	if err != nil {
		return toolError(err), nil
	}
	if len(ids) == 0 {
		return "No notes found", nil
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	notes, err := client.NotesInfo(ctx, ids)
	if err != nil {
		return toolError(err), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d note(s):\n", len(ids))
	for _, note := range notes {
		sb.WriteString(renderNote(note))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

func renderNote(note NoteInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Note %d (%s)", note.NoteID, note.ModelName)
	if len(note.Tags) > 0 {
		fmt.Fprintf(&sb, " tags: %s", strings.Join(note.Tags, ", "))
	}
	for name, field := range note.Fields {
		fmt.Fprintf(&sb, "\n  %s: %s", name, StripHTML(field.Value))
	}
	return sb.String()
}

func toolError(err error) string {
	return "Error: " + err.Error()
}
