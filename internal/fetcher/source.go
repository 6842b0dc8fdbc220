package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/config"
	"invoice-harvester-go/internal/models"
)

// MessageSource searches a mailbox for candidate messages
type MessageSource interface {
	Search(ctx context.Context, q Query) ([]models.CandidateMessage, error)
	FetchAttachmentBytes(ctx context.Context, ref string) ([]byte, error)
	MarkRead(ctx context.Context, id string) error
	Close() error
}

// Mode selects the query strategy
type Mode int

const (
	// ModeKeywords matches any keyword in subject or body
	ModeKeywords Mode = iota
	// ModeLabel matches everything under the label hint
	ModeLabel
	// ModeAttachment matches PDF attachments whose file name has a keyword
	ModeAttachment
)

func (m Mode) String() string {
	switch m {
	case ModeKeywords:
		return "keywords"
	case ModeLabel:
		return "label"
	case ModeAttachment:
		return "attachment"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Query is one date-bounded search
type Query struct {
	Mode       Mode
	Keywords   []string
	Label      string
	Since      time.Time
	Before     time.Time
	MaxResults int
}

// New creates the source selected by cfg
func New(ctx context.Context, cfg config.GmailConfig, log logrus.FieldLogger) (MessageSource, error) {
	if cfg.UseIMAP {
		return NewIMAPSource(cfg, log)
	}
	return NewGmailSource(ctx, cfg, log)
}

// Strategies returns the queries a run executes over [since, before)
func Strategies(cfg config.SearchConfig, since, before time.Time) []Query {
	keywords := make([]string, 0, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	var queries []Query
	if len(keywords) > 0 {
		queries = append(queries,
			Query{Mode: ModeKeywords, Keywords: keywords},
			Query{Mode: ModeAttachment, Keywords: keywords},
		)
	}
	if cfg.Label != "" {
		queries = append(queries, Query{Mode: ModeLabel, Label: cfg.Label})
	}
	for i := range queries {
		queries[i].Since = since
		queries[i].Before = before
		queries[i].MaxResults = cfg.MaxResults
	}
	return queries
}

// Collect runs every query and keeps the first occurrence of each message
// id, dropping ids for which skip returns true. It fails only when every
// query fails.
func Collect(ctx context.Context, src MessageSource, queries []Query, skip func(id string) bool, log logrus.FieldLogger) ([]models.CandidateMessage, error) {
	seen := make(map[string]bool)
	var (
		out     []models.CandidateMessage
		lastErr error
		failed  int
	)
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := src.Search(ctx, q)
		if err != nil {
			failed++
			lastErr = err
			log.WithError(err).WithField("strategy", q.Mode.String()).Warn("Search strategy failed")
			continue
		}
		added := 0
		for _, m := range msgs {
			if m.ID == "" || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			if skip != nil && skip(m.ID) {
				continue
			}
			out = append(out, m)
			added++
		}
		log.WithFields(logrus.Fields{
			"strategy": q.Mode.String(),
			"found":    len(msgs),
			"new":      added,
		}).Info("Search strategy completed")
	}
	if len(queries) > 0 && failed == len(queries) {
		return nil, fmt.Errorf("all search strategies failed: %w", lastErr)
	}
	return out, nil
}
