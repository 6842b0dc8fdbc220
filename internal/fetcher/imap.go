package fetcher

import (
	"context"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/config"
	"invoice-harvester-go/internal/models"
)

// IMAPSource implements MessageSource over IMAP. The client is not safe for
// concurrent use, so every command runs under mu.
type IMAPSource struct {
	client  *client.Client
	mailbox string
	log     logrus.FieldLogger

	mu       sync.Mutex
	selected string
	uids     map[string]imapLocation
	blobs    map[string][]byte
}

type imapLocation struct {
	mailbox string
	uid     uint32
}

// NewIMAPSource connects and logs in
func NewIMAPSource(cfg config.GmailConfig, log logrus.FieldLogger) (*IMAPSource, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := cfg.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPSource{
		client:  c,
		mailbox: mailbox,
		log:     log,
		uids:    make(map[string]imapLocation),
		blobs:   make(map[string][]byte),
	}, nil
}

// imapCriteria builds the SEARCH criteria for q. Label queries select the
// label's mailbox instead of adding criteria.
func imapCriteria(q Query) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	if !q.Since.IsZero() {
		criteria.Since = q.Since
	}
	if !q.Before.IsZero() {
		criteria.Before = q.Before
	}
	if q.Mode == ModeAttachment {
		criteria.Header = textproto.MIMEHeader{}
		criteria.Header.Add("Content-Type", "multipart/mixed")
	}
	if q.Mode == ModeKeywords || q.Mode == ModeAttachment {
		if match := anyText(q.Keywords); match != nil {
			criteria.Text = match.Text
			criteria.Or = match.Or
		}
	}
	return criteria
}

// anyText matches messages containing at least one keyword
func anyText(keywords []string) *imap.SearchCriteria {
	var clean []string
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	if len(clean) == 1 {
		return &imap.SearchCriteria{Text: []string{clean[0]}}
	}
	return &imap.SearchCriteria{
		Or: [][2]*imap.SearchCriteria{{
			{Text: []string{clean[0]}},
			anyText(clean[1:]),
		}},
	}
}

func (s *IMAPSource) selectMailbox(name string) error {
	if s.selected == name {
		return nil
	}
	if _, err := s.client.Select(name, false); err != nil {
		return fmt.Errorf("failed to select %s: %w", name, err)
	}
	s.selected = name
	return nil
}

func (s *IMAPSource) Search(ctx context.Context, q Query) ([]models.CandidateMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox := s.mailbox
	if q.Mode == ModeLabel {
		mailbox = q.Label
	}
	if err := s.selectMailbox(mailbox); err != nil {
		return nil, err
	}

	uids, err := s.client.UidSearch(imapCriteria(q))
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return []models.CandidateMessage{}, nil
	}
	// newest last; keep the newest when capped
	if q.MaxResults > 0 && len(uids) > q.MaxResults {
		uids = uids[len(uids)-q.MaxResults:]
	}

	messages, err := s.fetch(mailbox, uids)
	if err != nil {
		return nil, err
	}
	if q.Mode == ModeAttachment {
		filtered := messages[:0]
		for _, m := range messages {
			if _, ok := m.FirstPDF(); ok {
				filtered = append(filtered, m)
			}
		}
		messages = filtered
	}
	return messages, nil
}

// fetch downloads full bodies for uids; caller holds mu
func (s *IMAPSource) fetch(mailbox string, uids []uint32) ([]models.CandidateMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}
	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, ch)
	}()

	var messages []models.CandidateMessage
	for msg := range ch {
		candidate, blobs, err := parseIMAPMessage(msg, section)
		if err != nil {
			s.log.WithError(err).WithField("uid", msg.Uid).Warn("Failed to parse IMAP message")
			continue
		}
		s.uids[candidate.ID] = imapLocation{mailbox: mailbox, uid: msg.Uid}
		for ref, data := range blobs {
			s.blobs[ref] = data
		}
		messages = append(messages, candidate)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (models.CandidateMessage, map[string][]byte, error) {
	candidate := models.CandidateMessage{Date: msg.InternalDate}
	if msg.Envelope != nil {
		candidate.ID = strings.Trim(msg.Envelope.MessageId, "<>")
		candidate.ThreadID = strings.Trim(msg.Envelope.InReplyTo, "<>")
		candidate.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			candidate.From = formatAddress(msg.Envelope.From[0])
		}
		if !msg.Envelope.Date.IsZero() {
			candidate.Date = msg.Envelope.Date
		}
	}
	if candidate.ID == "" {
		candidate.ID = "uid:" + strconv.FormatUint(uint64(msg.Uid), 10)
	}
	if candidate.ThreadID == "" {
		candidate.ThreadID = candidate.ID
	}

	r := msg.GetBody(section)
	if r == nil {
		return candidate, nil, nil
	}
	parsed, err := parseMIME(r)
	if err != nil {
		return candidate, nil, err
	}
	candidate.Body = parsed.text
	candidate.HTMLBody = parsed.html

	blobs := make(map[string][]byte, len(parsed.attachments))
	for i, a := range parsed.attachments {
		ref := candidate.ID + "#" + strconv.Itoa(i)
		blobs[ref] = a.content
		candidate.Attachments = append(candidate.Attachments, models.Attachment{
			Name:        a.filename,
			Size:        int64(len(a.content)),
			ContentType: a.contentType,
			Ref:         ref,
		})
	}
	return candidate, blobs, nil
}

func formatAddress(addr *imap.Address) string {
	if addr.PersonalName != "" {
		return fmt.Sprintf("%s <%s@%s>", addr.PersonalName, addr.MailboxName, addr.HostName)
	}
	return fmt.Sprintf("%s@%s", addr.MailboxName, addr.HostName)
}

// FetchAttachmentBytes returns bytes cached by the last search
func (s *IMAPSource) FetchAttachmentBytes(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("attachment %q not loaded", ref)
	}
	return data, nil
}

// MarkRead sets the \Seen flag
func (s *IMAPSource) MarkRead(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.uids[id]
	if !ok {
		return fmt.Errorf("unknown message %s", id)
	}
	if err := s.selectMailbox(loc.mailbox); err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(loc.uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", id, err)
	}
	return nil
}

func (s *IMAPSource) Close() error {
	return s.client.Logout()
}
