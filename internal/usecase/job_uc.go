// File: internal/usecase/job_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
	"pixelmint/internal/domain/ports/repository"
	"pixelmint/internal/infra/logging"
	"pixelmint/internal/infra/metrics"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// JobUseCase is the reconciler: the only component that mutates jobs. It
// drives the lifecycle pending -> starting/processing -> completed|failed,
// plus cancelled on user request. Terminal states are sticky.
type JobUseCase interface {
	// Create debits credits and persists the job in one transaction, then
	// submits to the provider. A submission failure refunds immediately and
	// marks the job failed; a job is never left dangling in pending.
	Create(ctx context.Context, spec CreateJobSpec) (*model.Job, error)
	// ApplyStatus is the single entry point for both the webhook receiver and
	// the polling sweeper. It is idempotent: if the job is already terminal
	// the call is a silent no-op, which is how duplicate and out-of-order
	// notifications are reconciled. Returns the job after reconciliation.
	ApplyStatus(ctx context.Context, externalJobID string, status *adapter.StatusResult) (*model.Job, error)
	// Cancel honors the user's intent to stop paying even when the remote job
	// cannot be stopped: provider cancel is best-effort, refund is not.
	Cancel(ctx context.Context, jobID, ownerID string) (*model.Job, error)
	Get(ctx context.Context, jobID, ownerID string) (*model.Job, error)
	ListForOwner(ctx context.Context, ownerID string, limit int) ([]*model.Job, error)
}

type CreateJobSpec struct {
	OwnerID      string
	Kind         model.JobKind
	ModelVersion string
	Input        map[string]any
	Credits      int
	WebhookURL   string
}

type jobUC struct {
	jobs      repository.JobRepository
	ledger    LedgerUseCase
	migrator  MigratorUseCase
	providers map[model.JobKind]adapter.ProviderAdapter
	tm        repository.TransactionManager
	estimates map[model.JobKind]time.Duration
	log       *zerolog.Logger
}

func NewJobUseCase(
	jobs repository.JobRepository,
	ledger LedgerUseCase,
	migrator MigratorUseCase,
	providers map[model.JobKind]adapter.ProviderAdapter,
	tm repository.TransactionManager,
	log *zerolog.Logger,
) *jobUC {
	return &jobUC{
		jobs:      jobs,
		ledger:    ledger,
		migrator:  migrator,
		providers: providers,
		tm:        tm,
		estimates: map[model.JobKind]time.Duration{
			model.JobKindImage:   30 * time.Second,
			model.JobKindUpscale: 60 * time.Second,
			model.JobKindVideo:   5 * time.Minute,
		},
		log: log,
	}
}

func (u *jobUC) providerFor(kind model.JobKind) (adapter.ProviderAdapter, error) {
	p, ok := u.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no provider for kind %q", domain.ErrInvalidArgument, kind)
	}
	return p, nil
}

func (u *jobUC) Create(ctx context.Context, spec CreateJobSpec) (*model.Job, error) {
	provider, err := u.providerFor(spec.Kind)
	if err != nil {
		return nil, err
	}
	job, err := model.NewJob(spec.OwnerID, spec.Kind, provider.Name(), spec.ModelVersion, spec.Input, spec.Credits)
	if err != nil {
		return nil, err
	}

	// Debit and job insert commit together: insufficient credits means no job
	// row and no ledger row.
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := u.ledger.Debit(ctx, tx, spec.OwnerID, spec.Credits, job.ID); err != nil {
			return err
		}
		return u.jobs.Save(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	res, err := provider.Submit(ctx, adapter.SubmitSpec{
		Kind:         spec.Kind,
		ModelVersion: spec.ModelVersion,
		Input:        spec.Input,
		WebhookURL:   spec.WebhookURL,
	})
	if err != nil {
		u.log.Warn().Err(err).Str("job_id", job.ID).Str("kind", string(spec.Kind)).Msg("submission failed")
		metrics.IncJob(string(spec.Kind), "submit_failed")
		job.MarkFailed(fmt.Sprintf("submission failed: %v", err))
		if ferr := u.refundAndSave(ctx, job, model.CreditReasonRefundFailed); ferr != nil {
			return nil, ferr
		}
		return job, err
	}

	eta := res.ETA
	if eta == nil {
		t := time.Now().Add(u.estimates[spec.Kind])
		eta = &t
	}
	job.MarkSubmitted(res.ExternalJobID, model.JobStateFor(spec.Kind, res.InitialState), eta)
	if err := u.jobs.Save(ctx, nil, job); err != nil {
		return nil, err
	}
	metrics.IncJob(string(spec.Kind), "submitted")
	u.log.Info().Str("job_id", job.ID).Str("external_id", res.ExternalJobID).Str("kind", string(spec.Kind)).Msg("job submitted")
	return job, nil
}

func (u *jobUC) ApplyStatus(ctx context.Context, externalJobID string, status *adapter.StatusResult) (*model.Job, error) {
	defer logging.TraceDuration(u.log, "JobUC.ApplyStatus")()
	job, err := u.jobs.FindByExternalID(ctx, nil, externalJobID)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithJobID(ctx, job.ID)
	if job.State.IsTerminal() {
		// Duplicate or late notification; first writer won.
		metrics.IncJob(string(job.Kind), "duplicate_status")
		logging.With(ctx, u.log).Debug().Str("state", string(job.State)).Msg("status for terminal job ignored")
		return job, nil
	}

	switch {
	case status.State.IsInFlight():
		job.MarkInFlight(model.JobStateFor(job.Kind, status.State), nil)
		if err := u.jobs.Save(ctx, nil, job); err != nil {
			return nil, err
		}
		return job, nil

	case status.State.IsTerminalSuccess():
		return u.completeWithMigration(ctx, job, status.OutputURLs)

	case status.State == model.CanonicalCanceled:
		job.MarkCancelled()
		if err := u.refundAndSave(ctx, job, model.CreditReasonRefundCancel); err != nil {
			return nil, err
		}
		metrics.IncJob(string(job.Kind), "cancelled")
		return job, nil

	default: // terminal failure
		msg := status.ErrorMessage
		if msg == "" {
			msg = "provider reported failure"
		}
		job.MarkFailed(msg)
		if err := u.refundAndSave(ctx, job, model.CreditReasonRefundFailed); err != nil {
			return nil, err
		}
		metrics.IncJob(string(job.Kind), "failed")
		return job, nil
	}
}

// completeWithMigration moves provider outputs into durable storage and then
// decides the terminal state. The provider having succeeded does not entitle
// us to a charge if nothing could be retained: zero migrated outputs refunds
// and fails the job.
func (u *jobUC) completeWithMigration(ctx context.Context, job *model.Job, outputURLs []string) (*model.Job, error) {
	if len(outputURLs) == 0 {
		job.MarkFailed("provider succeeded but returned no outputs")
		if err := u.refundAndSave(ctx, job, model.CreditReasonRefundStorage); err != nil {
			return nil, err
		}
		metrics.IncJob(string(job.Kind), "failed")
		return job, nil
	}

	inputs := make([]MigrationInput, 0, len(outputURLs))
	for i, url := range outputURLs {
		inputs = append(inputs, MigrationInput{Index: i, SourceURL: url, Kind: job.Kind})
	}
	results := u.migrator.Migrate(ctx, job.ID, job.OwnerID, inputs)

	var urls, thumbs []string
	for _, r := range results {
		if !r.OK {
			continue
		}
		urls = append(urls, r.PermanentURL)
		if r.ThumbnailURL != "" {
			thumbs = append(thumbs, r.ThumbnailURL)
		}
	}

	if len(urls) == 0 {
		job.MarkFailed(domain.ErrStorageMigration.Error())
		if err := u.refundAndSave(ctx, job, model.CreditReasonRefundStorage); err != nil {
			return nil, err
		}
		metrics.IncJob(string(job.Kind), "migration_failed")
		return job, nil
	}

	// Partial migration success still completes in full; no partial refund.
	job.MarkCompleted(urls, thumbs)
	if err := u.jobs.Save(ctx, nil, job); err != nil {
		return nil, err
	}
	metrics.IncJob(string(job.Kind), "completed")
	metrics.ObserveJobLatency(string(job.Kind), time.Since(job.CreatedAt).Seconds())
	u.log.Info().Str("job_id", job.ID).Int("outputs", len(urls)).Msg("job completed")
	return job, nil
}

// refundAndSave commits the refund and the terminal transition in one
// transaction. A refund failure is a correctness violation of the credit
// invariant: it is logged for alerting and the terminal state is still
// persisted, since the job outcome is the user-visible truth.
func (u *jobUC) refundAndSave(ctx context.Context, job *model.Job, reason model.CreditTransactionReason) error {
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, _, err := u.ledger.Refund(ctx, tx, job.OwnerID, job.CreditsReserved, job.ID, reason); err != nil {
			return err
		}
		return u.jobs.Save(ctx, tx, job)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrRefundFailed) {
		metrics.IncRefundFailure()
		u.log.Error().Err(err).Str("job_id", job.ID).Str("user_id", job.OwnerID).Msg("refund failed; persisting terminal state without refund")
		return u.jobs.Save(ctx, nil, job)
	}
	return err
}

func (u *jobUC) Cancel(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	if job.State.IsTerminal() {
		return nil, domain.ErrInvalidState
	}

	if job.ExternalJobID != "" {
		if provider, err := u.providerFor(job.Kind); err == nil {
			if !provider.Cancel(ctx, job.ExternalJobID) {
				u.log.Warn().Str("job_id", job.ID).Msg("provider cancel failed; cancelling locally anyway")
			}
		}
	}

	job.MarkCancelled()
	if err := u.refundAndSave(ctx, job, model.CreditReasonRefundCancel); err != nil {
		return nil, err
	}
	metrics.IncJob(string(job.Kind), "cancelled")
	u.log.Info().Str("job_id", job.ID).Msg("job cancelled by owner")
	return job, nil
}

func (u *jobUC) Get(ctx context.Context, jobID, ownerID string) (*model.Job, error) {
	job, err := u.jobs.FindByID(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return job, nil
}

func (u *jobUC) ListForOwner(ctx context.Context, ownerID string, limit int) ([]*model.Job, error) {
	return u.jobs.ListByOwner(ctx, nil, ownerID, limit)
}
