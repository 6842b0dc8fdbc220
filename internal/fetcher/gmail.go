package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"invoice-harvester-go/internal/config"
	"invoice-harvester-go/internal/models"
)

const gmailPageSize = 100

// GmailSource implements MessageSource using the Gmail API
type GmailSource struct {
	service   *gmail.Service
	userEmail string
	log       logrus.FieldLogger

	mu     sync.Mutex
	inline map[string][]byte
}

// NewGmailSource creates a Gmail API source from a refresh token
func NewGmailSource(ctx context.Context, cfg config.GmailConfig, log logrus.FieldLogger) (*GmailSource, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewGmailSourceWithService(service, cfg.UserEmail, log), nil
}

// NewGmailSourceWithService wraps an existing Gmail service
func NewGmailSourceWithService(service *gmail.Service, userEmail string, log logrus.FieldLogger) *GmailSource {
	if userEmail == "" {
		userEmail = "me"
	}
	return &GmailSource{
		service:   service,
		userEmail: userEmail,
		log:       log,
		inline:    make(map[string][]byte),
	}
}

// GmailQuery renders q in Gmail search syntax
func GmailQuery(q Query) string {
	var terms []string
	switch q.Mode {
	case ModeKeywords:
		if group := anyOf(q.Keywords, ""); group != "" {
			terms = append(terms, group)
		}
	case ModeAttachment:
		terms = append(terms, "has:attachment", "filename:pdf")
		if group := anyOf(q.Keywords, "filename:"); group != "" {
			terms = append(terms, group)
		}
	case ModeLabel:
		terms = append(terms, "label:"+strings.ReplaceAll(strings.TrimSpace(q.Label), " ", "-"))
	}
	if !q.Since.IsZero() {
		terms = append(terms, "after:"+strconv.FormatInt(q.Since.Unix(), 10))
	}
	if !q.Before.IsZero() {
		terms = append(terms, "before:"+strconv.FormatInt(q.Before.Unix(), 10))
	}
	return strings.Join(terms, " ")
}

func anyOf(keywords []string, prefix string) string {
	var parts []string
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.ContainsAny(k, " \t") {
			k = strconv.Quote(k)
		}
		parts = append(parts, prefix+k)
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return "{" + strings.Join(parts, " ") + "}"
	}
}

// Search lists matching messages and loads each one in full
func (s *GmailSource) Search(ctx context.Context, q Query) ([]models.CandidateMessage, error) {
	query := GmailQuery(q)
	var ids []string
	pageToken := ""
	for {
		call := s.service.Users.Messages.List(s.userEmail).Q(query).MaxResults(gmailPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		response, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, m := range response.Messages {
			ids = append(ids, m.Id)
		}
		if response.NextPageToken == "" || (q.MaxResults > 0 && len(ids) >= q.MaxResults) {
			break
		}
		pageToken = response.NextPageToken
	}
	if q.MaxResults > 0 && len(ids) > q.MaxResults {
		ids = ids[:q.MaxResults]
	}

	messages := make([]models.CandidateMessage, 0, len(ids))
	for _, id := range ids {
		msg, err := s.service.Users.Messages.Get(s.userEmail, id).Format("full").Context(ctx).Do()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.WithError(err).WithField("message_id", id).Warn("Failed to get message")
			continue
		}
		candidate, inline, err := parseGmailMessage(msg)
		if err != nil {
			s.log.WithError(err).WithField("message_id", id).Warn("Failed to parse message")
			continue
		}
		s.mu.Lock()
		for ref, data := range inline {
			s.inline[ref] = data
		}
		s.mu.Unlock()
		messages = append(messages, candidate)
	}
	return messages, nil
}

// parseGmailMessage converts a full-format message. Attachments carried
// inline in the payload are returned keyed by their reference.
func parseGmailMessage(msg *gmail.Message) (models.CandidateMessage, map[string][]byte, error) {
	candidate := models.CandidateMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}
	if msg.InternalDate > 0 {
		candidate.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	inline := make(map[string][]byte)
	if msg.Payload == nil {
		return candidate, inline, nil
	}
	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "subject":
			candidate.Subject = header.Value
		case "from":
			candidate.From = header.Value
		}
	}
	if err := walkGmailPart(msg.Id, msg.Payload, &candidate, inline); err != nil {
		return candidate, nil, err
	}
	return candidate, inline, nil
}

func walkGmailPart(msgID string, part *gmail.MessagePart, candidate *models.CandidateMessage, inline map[string][]byte) error {
	if part.Filename != "" {
		att := models.Attachment{
			Name:        part.Filename,
			ContentType: part.MimeType,
		}
		if part.Body != nil {
			att.Size = part.Body.Size
			switch {
			case part.Body.AttachmentId != "":
				att.Ref = msgID + "/" + part.Body.AttachmentId
			case part.Body.Data != "":
				data, err := decodeBase64URL(part.Body.Data)
				if err != nil {
					return fmt.Errorf("failed to decode attachment %s: %w", part.Filename, err)
				}
				att.Ref = msgID + "/part-" + part.PartId
				inline[att.Ref] = data
			}
		}
		candidate.Attachments = append(candidate.Attachments, att)
		return nil
	}

	if part.Body != nil && part.Body.Data != "" {
		data, err := decodeBase64URL(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}
		switch part.MimeType {
		case "text/plain":
			if candidate.Body == "" {
				candidate.Body = string(data)
			}
		case "text/html":
			if candidate.HTMLBody == "" {
				candidate.HTMLBody = string(data)
			}
		}
	}
	for _, sub := range part.Parts {
		if err := walkGmailPart(msgID, sub, candidate, inline); err != nil {
			return err
		}
	}
	return nil
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// FetchAttachmentBytes downloads the attachment behind ref
func (s *GmailSource) FetchAttachmentBytes(ctx context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	data, ok := s.inline[ref]
	s.mu.Unlock()
	if ok {
		return data, nil
	}

	msgID, attID, found := strings.Cut(ref, "/")
	if !found || msgID == "" || attID == "" {
		return nil, fmt.Errorf("invalid attachment reference %q", ref)
	}
	body, err := s.service.Users.Messages.Attachments.Get(s.userEmail, msgID, attID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	data, err = decodeBase64URL(body.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment: %w", err)
	}
	return data, nil
}

// MarkRead removes the UNREAD label
func (s *GmailSource) MarkRead(ctx context.Context, id string) error {
	_, err := s.service.Users.Messages.Modify(s.userEmail, id, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", id, err)
	}
	return nil
}

// Close is a no-op; the Gmail service holds no connection
func (s *GmailSource) Close() error {
	return nil
}
