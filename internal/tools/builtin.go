package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RichardoC/chatpipe/internal/models"
	"github.com/RichardoC/chatpipe/internal/ratelimit"
	"github.com/shopspring/decimal"
)

const (
	searchLimit   = 5
	previewLength = 200
)

// UsageStats summarizes an account's usage for one calendar month.
type UsageStats struct {
	Month             string `json:"month"`
	MessageCount      int    `json:"message_count"`
	TotalInputTokens  int    `json:"total_input_tokens"`
	TotalOutputTokens int    `json:"total_output_tokens"`
	EstimatedCostUSD  string `json:"estimated_cost_usd"`
}

// SummarizeUsage aggregates the usage records of the month containing now.
func SummarizeUsage(records []models.UsageRecord, now time.Time) UsageStats {
	stats := UsageStats{
		Month:        now.UTC().Format("January 2006"),
		MessageCount: len(records),
	}
	cost := decimal.Zero
	for _, r := range records {
		stats.TotalInputTokens += r.InputTokens
		stats.TotalOutputTokens += r.OutputTokens
		cost = cost.Add(r.EstimatedCostUSD)
	}
	stats.EstimatedCostUSD = cost.StringFixed(4)
	return stats
}

func usageStatsTool(now func() time.Time) Tool {
	return Tool{
		Name: "get_usage_stats",
		Description: "Get the user's AI usage statistics for the current month, including message count, " +
			"token usage, and estimated cost. Use this when the user asks about their usage, limits, or remaining messages.",
		Schema: Schema{Type: "object"},
		Handler: func(ctx context.Context, _ json.RawMessage, tc Context) (any, error) {
			t := now()
			records, err := tc.Store.UsageSince(ctx, ratelimit.StartOfMonth(t))
			if err != nil {
				return nil, &Failure{Message: "Failed to fetch usage stats", Err: err}
			}
			return SummarizeUsage(records, t), nil
		},
	}
}

type searchNotesInput struct {
	Query string `json:"query"`
}

type noteMatch struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Tags      []string  `json:"tags"`
	UpdatedAt time.Time `json:"updated_at"`
}

type searchNotesResult struct {
	Results []noteMatch `json:"results"`
	Total   *int        `json:"total,omitempty"`
	Message string      `json:"message,omitempty"`
}

func searchNotesTool() Tool {
	return Tool{
		Name: "search_notes",
		Description: "Search through the user's notes by keyword. Returns matching note titles and previews. " +
			"Use this when the user asks to find or look up notes.",
		Schema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "The search term to find in note titles and content"},
			},
			Required: []string{"query"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage, tc Context) (any, error) {
			var in searchNotesInput
			if err := decodeInput(raw, &in, requiredField{"query", &in.Query}); err != nil {
				return nil, err
			}

			notes, err := tc.Store.SearchNotes(ctx, in.Query, searchLimit)
			if err != nil {
				return nil, &Failure{Message: "Failed to search notes", Err: err}
			}
			if len(notes) == 0 {
				return searchNotesResult{
					Results: []noteMatch{},
					Message: fmt.Sprintf("No notes found matching \"%s\"", in.Query),
				}, nil
			}

			matches := make([]noteMatch, 0, len(notes))
			for _, n := range notes {
				matches = append(matches, noteMatch{
					ID:        n.ID,
					Title:     n.Title,
					Preview:   preview(n.Content, previewLength),
					Tags:      n.Tags,
					UpdatedAt: n.UpdatedAt,
				})
			}
			total := len(matches)
			return searchNotesResult{Results: matches, Total: &total}, nil
		},
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

type createNoteInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

type createNoteResult struct {
	Success bool   `json:"success"`
	NoteID  string `json:"note_id"`
	Message string `json:"message"`
}

func createNoteTool() Tool {
	return Tool{
		Name: "create_note",
		Description: "Create a new note for the user with a title and content. Use this when the user asks to save, " +
			"write down, or create a note. Always confirm the content with the user before creating.",
		Schema: Schema{
			Type: "object",
			Properties: map[string]Property{
				"title":   {Type: "string", Description: "A short, descriptive title for the note"},
				"content": {Type: "string", Description: "The full content of the note (supports markdown)"},
				"tags": {
					Type:        "array",
					Items:       &Property{Type: "string"},
					Description: "Optional tags to categorize the note",
				},
			},
			Required: []string{"title", "content"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage, tc Context) (any, error) {
			var in createNoteInput
			err := decodeInput(raw, &in,
				requiredField{"title", &in.Title},
				requiredField{"content", &in.Content})
			if err != nil {
				return nil, err
			}

			note, err := tc.Store.CreateNote(ctx, in.Title, in.Content, in.Tags)
			if err != nil {
				return nil, &Failure{Message: "Failed to create note", Details: err.Error(), Err: err}
			}
			return createNoteResult{
				Success: true,
				NoteID:  note.ID,
				Message: fmt.Sprintf("Note \"%s\" created successfully", note.Title),
			}, nil
		},
	}
}
