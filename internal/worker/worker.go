package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/storage"
)

// ObjectStore is where settlement exports are written.
type ObjectStore interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// JobSource hands out jobs and takes failed ones back.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// SettlementProcessor exports the participation outcome of ended sessions as CSV files
// that the external credit ledger imports.
type SettlementProcessor struct {
	objects ObjectStore
	bucket  string
	jobs    JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewSettlementProcessor creates a settlement export processor.
func NewSettlementProcessor(objects ObjectStore, bucket string, jobs JobSource, logger *zap.Logger) *SettlementProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementProcessor{objects: objects, bucket: bucket, jobs: jobs, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one settlement job. An export that already exists is left alone, so a
// redelivered job is harmless.
func (p *SettlementProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSettlement {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SettlementPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	key := storage.SettlementKey(payload.SessionID.String(), payload.EndedAt)
	exists, err := p.objects.Exists(ctx, p.bucket, key)
	if err != nil {
		return fmt.Errorf("check export: %w", err)
	}
	if exists {
		p.logger.Info("settlement already exported", zap.String("session_id", payload.SessionID.String()), zap.String("s3_key", key))
		return nil
	}

	var buf bytes.Buffer
	if err := WriteSettlementCSV(&buf, payload); err != nil {
		return fmt.Errorf("encode csv: %w", err)
	}
	url, err := p.objects.Upload(ctx, p.bucket, key, storage.ContentTypeCSV, &buf, int64(buf.Len()))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	p.logger.Info("settlement exported",
		zap.String("session_id", payload.SessionID.String()),
		zap.Int("rows", len(payload.Rows)),
		zap.String("url", url),
	)
	return nil
}

// settlementHeader is the column order of the export.
var settlementHeader = []string{
	"session_id", "class_id", "teacher_id", "ended_at",
	"participant_id", "student_id", "partner_student_id",
	"questions_answered", "correct_answers", "credit", "deduction",
}

// WriteSettlementCSV writes one header row and one row per participant.
func WriteSettlementCSV(w io.Writer, p queue.SettlementPayload) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(settlementHeader); err != nil {
		return err
	}
	ended := p.EndedAt.UTC().Format(time.RFC3339)
	for _, r := range p.Rows {
		partner := ""
		if r.PartnerStudentID != nil {
			partner = r.PartnerStudentID.String()
		}
		record := []string{
			p.SessionID.String(), p.ClassID.String(), p.TeacherID.String(), ended,
			r.ParticipantID.String(), r.StudentID.String(), partner,
			strconv.Itoa(r.QuestionsAnswered), strconv.Itoa(r.CorrectAnswers),
			strconv.Itoa(r.Credit), strconv.Itoa(r.Deduction),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *SettlementProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("settlement worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.jobs.Retry(context.WithoutCancel(ctx), job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *SettlementProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
