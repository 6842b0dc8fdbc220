package pipeline

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/ai"
	"invoice-harvester-go/internal/apperr"
	"invoice-harvester-go/internal/budget"
	"invoice-harvester-go/internal/clock"
	"invoice-harvester-go/internal/converter"
	"invoice-harvester-go/internal/fetcher"
	"invoice-harvester-go/internal/ledger"
	"invoice-harvester-go/internal/models"
	"invoice-harvester-go/internal/storage"
)

// Extractor turns message content into a validated record
type Extractor interface {
	Extract(ctx context.Context, req ai.Request, msgGuard *budget.Guard) (ai.Result, error)
	CanInline(n int) bool
}

// EarlyFilter rejects obvious non-invoices before any model call
type EarlyFilter interface {
	Check(msg *models.CandidateMessage) (bool, string)
}

// DuplicateChecker looks a record up among recent ledger rows
type DuplicateChecker interface {
	IsDuplicate(rec *models.InvoiceRecord, fileRef string, rows []models.LedgerRow) (bool, string)
}

// ProcessedSet tracks message ids whose outcome is final
type ProcessedSet interface {
	Contains(id string) bool
	MarkAndFlush(ctx context.Context, id string) error
}

// Observer receives one event per processed message
type Observer interface {
	MessageProcessed(kind models.OutcomeKind, d time.Duration)
}

// Config holds the per-message settings
type Config struct {
	MessageBudget  time.Duration
	ExtractTimeout time.Duration
	RecentWindow   int
	MarkRead       bool
}

// Pipeline processes one candidate message at a time
type Pipeline struct {
	cfg       Config
	source    fetcher.MessageSource
	extractor Extractor
	early     EarlyFilter
	dupes     DuplicateChecker
	converter converter.DocumentConverter
	blobs     storage.BlobStore
	ledger    ledger.Ledger
	clk       clock.Clock
	log       logrus.FieldLogger
	observer  Observer
}

// Deps groups the collaborators of a Pipeline
type Deps struct {
	Source    fetcher.MessageSource
	Extractor Extractor
	Early     EarlyFilter
	Dupes     DuplicateChecker
	Converter converter.DocumentConverter
	Blobs     storage.BlobStore
	Ledger    ledger.Ledger
	Clock     clock.Clock
	Log       logrus.FieldLogger
	Observer  Observer
}

// New creates a pipeline
func New(cfg Config, d Deps) *Pipeline {
	if cfg.MessageBudget <= 0 {
		cfg.MessageBudget = 45 * time.Second
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 15 * time.Second
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 500
	}
	if d.Converter == nil {
		d.Converter = converter.Noop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return &Pipeline{
		cfg:       cfg,
		source:    d.Source,
		extractor: d.Extractor,
		early:     d.Early,
		dupes:     d.Dupes,
		converter: d.Converter,
		blobs:     d.Blobs,
		ledger:    d.Ledger,
		clk:       d.Clock,
		log:       d.Log,
		observer:  d.Observer,
	}
}

// Process runs msg through every stage and always returns exactly one
// outcome. Timeouts become SkippedTimeout; other failures become Error.
func (p *Pipeline) Process(ctx context.Context, msg *models.CandidateMessage, runGuard *budget.Guard, processed ProcessedSet) models.Outcome {
	started := p.clk.Now()
	var msgGuard *budget.Guard
	if runGuard != nil {
		msgGuard = runGuard.Child("message", p.cfg.MessageBudget)
	} else {
		msgGuard = budget.New("message", p.cfg.MessageBudget, p.clk)
	}
	log := p.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"subject":    msg.Subject,
	})

	w := &work{msg: msg, run: runGuard, guard: msgGuard, processed: processed, log: log}
	outcome, err := p.run(ctx, w)
	if err != nil {
		p.discard(ctx, w)
		outcome = models.Outcome{MessageID: msg.ID, Err: err, Reason: err.Error()}
		if apperr.IsTimeout(err) {
			outcome.Kind = models.OutcomeSkippedTimeout
			log.WithError(err).Warn("Message skipped after timeout")
		} else {
			outcome.Kind = models.OutcomeError
			log.WithError(err).Error("Message processing failed")
		}
	}

	elapsed := p.clk.Now().Sub(started)
	if p.observer != nil {
		p.observer.MessageProcessed(outcome.Kind, elapsed)
	}
	log.WithFields(logrus.Fields{
		"outcome":  string(outcome.Kind),
		"duration": elapsed.String(),
	}).Info("Message processed")
	return outcome
}

// work is the mutable state of one message moving through the stages
type work struct {
	msg       *models.CandidateMessage
	run       *budget.Guard
	guard     *budget.Guard
	processed ProcessedSet
	log       logrus.FieldLogger

	staged string
	record *models.InvoiceRecord
}

// check is a cooperative checkpoint against the run and message budgets
func (w *work) check(phase string) error {
	return budget.CheckAll(phase, w.run, w.guard)
}

func (p *Pipeline) run(ctx context.Context, w *work) (models.Outcome, error) {
	msg := w.msg
	if err := w.check("start"); err != nil {
		return models.Outcome{}, err
	}
	if w.processed != nil && w.processed.Contains(msg.ID) {
		return skipped(msg, models.OutcomeSkippedDuplicate, "message already processed"), nil
	}

	if p.early != nil {
		if reject, reason := p.early.Check(msg); reject {
			w.log.WithField("reason", reason).Info("Message rejected before extraction")
			p.finalize(ctx, w)
			return skipped(msg, models.OutcomeSkippedNotInvoice, reason), nil
		}
	}
	if err := w.check("early-reject"); err != nil {
		return models.Outcome{}, err
	}

	req, err := p.assemble(ctx, w)
	if err != nil {
		return models.Outcome{}, err
	}
	if err := w.check("content"); err != nil {
		return models.Outcome{}, err
	}

	result, err := p.extractor.Extract(ctx, req, w.guard)
	if err != nil {
		return models.Outcome{}, err
	}
	if !result.Accepted() {
		p.discard(ctx, w)
		p.finalize(ctx, w)
		return skipped(msg, models.OutcomeSkippedNotInvoice, result.Decision.Reason), nil
	}
	w.record = result.Record
	if err := w.check("extracted"); err != nil {
		return models.Outcome{}, err
	}

	date := storage.FileDate(w.record, msg.Date)
	name := storage.InvoiceFileName(w.record, msg.Date)
	targetURL := p.blobs.URLOf(path.Join(storage.DateFolder(date), name))

	rows, err := p.ledger.FindRecent(ctx, p.cfg.RecentWindow)
	if err != nil {
		return models.Outcome{}, err
	}
	if dup, reason := p.dupes.IsDuplicate(w.record, targetURL, rows); dup {
		w.log.WithField("reason", reason).Info("Duplicate invoice skipped")
		p.discard(ctx, w)
		p.finalize(ctx, w)
		out := skipped(msg, models.OutcomeSkippedDuplicate, reason)
		out.Record = w.record
		return out, nil
	}
	if err := w.check("deduplicated"); err != nil {
		return models.Outcome{}, err
	}

	return p.persist(ctx, w, date, name)
}

// assemble picks the content sent to the model. A PDF attachment wins over
// the body; small PDFs go inline, larger ones through text extraction.
func (p *Pipeline) assemble(ctx context.Context, w *work) (ai.Request, error) {
	msg := w.msg
	att, ok := msg.FirstPDF()
	if !ok {
		return ai.Request{Text: messageText(msg)}, nil
	}

	data, err := p.source.FetchAttachmentBytes(ctx, att.Ref)
	if err != nil {
		return ai.Request{}, err
	}
	if att.Size == 0 {
		att.Size = int64(len(data))
	}
	staged, err := p.blobs.SaveFile(ctx, data, stagingName(msg, att), storage.StagingFolder)
	if err != nil {
		return ai.Request{}, err
	}
	w.staged = staged

	if p.extractor.CanInline(len(data)) {
		return ai.Request{
			Text:         headerBlock(msg) + "\n" + bodyText(msg),
			Document:     data,
			DocumentMIME: "application/pdf",
		}, nil
	}

	timeout := p.cfg.ExtractTimeout
	if remaining := w.guard.Remaining(); remaining < timeout {
		timeout = remaining
	}
	text := p.converter.ExtractText(ctx, data, timeout)
	if text == "" {
		w.log.WithField("attachment", att.Name).Warn("No text extracted from attachment, using reference note")
		return ai.Request{Text: referenceNote(msg, att)}, nil
	}
	return ai.Request{Text: documentText(msg, att, text)}, nil
}

func stagingName(msg *models.CandidateMessage, att models.Attachment) string {
	name := storage.Slug(msg.ID, 64) + "_" + storage.Slug(att.Name, 80)
	if path.Ext(name) == "" {
		name += ".pdf"
	}
	return name
}

func (p *Pipeline) persist(ctx context.Context, w *work, date time.Time, name string) (models.Outcome, error) {
	folder, err := p.blobs.EnsureDateFolder(ctx, date)
	if err != nil {
		return models.Outcome{}, err
	}

	var ref string
	if w.staged != "" {
		renamed, err := p.blobs.RenameFile(ctx, w.staged, name)
		if err != nil {
			return models.Outcome{}, err
		}
		w.staged = renamed
		if ref, err = p.blobs.MoveFile(ctx, renamed, folder); err != nil {
			return models.Outcome{}, err
		}
	} else {
		ref = p.storeBody(ctx, w, name, folder)
	}
	// the filed copy is discarded with the message until its row exists
	w.staged = ref

	fileURL := ""
	if ref != "" {
		fileURL = p.blobs.URLOf(ref)
	}
	if err := p.ledger.AppendRow(ctx, w.record, fileURL, w.msg.ID); err != nil {
		return models.Outcome{}, err
	}
	w.staged = ""
	p.finalize(ctx, w)

	w.log.WithFields(logrus.Fields{
		"provider":       w.record.Provider,
		"invoice_number": w.record.InvoiceNumber,
		"file":           ref,
	}).Info("Invoice registered")
	return models.Outcome{
		MessageID:   w.msg.ID,
		Kind:        models.OutcomeCreated,
		Record:      w.record,
		ArtifactRef: ref,
		FileURL:     fileURL,
	}, nil
}

// storeBody renders a body-only invoice to PDF. The invoice is still
// registered without a file when rendering is unavailable.
func (p *Pipeline) storeBody(ctx context.Context, w *work, name, folder string) string {
	data, err := p.converter.RenderPDF(ctx, bodyHTML(w.msg))
	if err != nil {
		if !errors.Is(err, converter.ErrRenderUnavailable) {
			w.log.WithError(err).Warn("Failed to render message body")
		}
		return ""
	}
	ref, err := p.blobs.SaveFile(ctx, data, name, folder)
	if err != nil {
		w.log.WithError(err).Warn("Failed to store rendered body")
		return ""
	}
	return ref
}

// finalize records the message as done; only called once its outcome is
// durable
func (p *Pipeline) finalize(ctx context.Context, w *work) {
	if w.processed != nil {
		if err := w.processed.MarkAndFlush(ctx, w.msg.ID); err != nil {
			w.log.WithError(err).Warn("Failed to record processed message")
		}
	}
	if p.cfg.MarkRead && p.source != nil {
		if err := p.source.MarkRead(ctx, w.msg.ID); err != nil {
			w.log.WithError(err).Warn("Failed to mark message read")
		}
	}
}

// discard deletes the staged or filed copy, if any
func (p *Pipeline) discard(ctx context.Context, w *work) {
	if w.staged == "" {
		return
	}
	if err := p.blobs.Delete(context.WithoutCancel(ctx), w.staged); err != nil {
		w.log.WithError(err).WithField("ref", w.staged).Warn("Failed to delete staged attachment")
		return
	}
	w.staged = ""
}

func skipped(msg *models.CandidateMessage, kind models.OutcomeKind, reason string) models.Outcome {
	return models.Outcome{MessageID: msg.ID, Kind: kind, Reason: reason}
}
