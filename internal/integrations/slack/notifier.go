package slackbot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"

	"issuetriage/internal/domain"
	"issuetriage/internal/httpx"
)

// Notifier posts a short summary of each classification run to a channel.
type Notifier struct {
	api       *slack.Client
	channelID string
	ticketURL string
}

// NewNotifier builds a notifier for channelID. trackerURL, when set, turns
// ticket numbers into links. apiURL overrides the Slack API endpoint and is
// only meant for tests.
func NewNotifier(token, channelID, trackerURL, apiURL string) *Notifier {
	opts := []slack.Option{slack.OptionHTTPClient(httpx.ExternalHTTPClient())}
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Notifier{
		api:       slack.New(token, opts...),
		channelID: channelID,
		ticketURL: strings.TrimRight(trackerURL, "/"),
	}
}

func (n *Notifier) Notify(ctx context.Context, rec domain.ClassificationRecord) error {
	text := formatRunText(rec, n.ticketURL)
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
	if rec.LLMModel != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("%s / %s", rec.LLMProvider, rec.LLMModel), false, false),
		))
	}

	_, ts, err := n.api.PostMessageContext(ctx, n.channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", n.channelID, err)
	}
	log.Printf("slack notify ticket=%d outcome=%s ts=%s", rec.TicketID, rec.Outcome, ts)
	return nil
}

func formatRunText(rec domain.ClassificationRecord, ticketURL string) string {
	ticket := fmt.Sprintf("#%d", rec.TicketID)
	if ticketURL != "" {
		ticket = fmt.Sprintf("<%s/issues/%d|#%d>", ticketURL, rec.TicketID, rec.TicketID)
	}
	if rec.TicketSubject != "" {
		ticket += " " + rec.TicketSubject
	}

	var b strings.Builder
	switch rec.Outcome {
	case domain.OutcomeClassified:
		b.WriteString(fmt.Sprintf(":label: %s\nProject: *%s*", ticket, rec.ProjectName))
		if rec.ProjectChanged {
			b.WriteString(" (moved)")
		}
		b.WriteString(fmt.Sprintf("\nCategory: *%s*", rec.CategoryName))
		if rec.OwnerID != 0 {
			b.WriteString(fmt.Sprintf("\nAssigned to user %d", rec.OwnerID))
		}
	case domain.OutcomeFailed:
		b.WriteString(fmt.Sprintf(":warning: %s could not be classified (stage %s)", ticket, rec.Stage))
		if rec.Error != "" {
			b.WriteString("\n> " + rec.Error)
		}
	default:
		b.WriteString(fmt.Sprintf("%s skipped (%s)", ticket, rec.Stage))
	}
	return b.String()
}
