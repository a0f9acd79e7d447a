//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
	"pixelmint/internal/domain/ports/repository"
	"pixelmint/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// =============================
// Repositories
// =============================

// ---- Mock JobRepository ----

type MockJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	SaveFunc func(ctx context.Context, tx repository.Tx, job *model.Job) error
}

var _ repository.JobRepository = (*MockJobRepo)(nil)

func NewMockJobRepo() *MockJobRepo {
	return &MockJobRepo{jobs: make(map[string]*model.Job)}
}

func (m *MockJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, tx, job); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Terminal states are sticky, mirroring the SQL upsert guard.
	if existing, ok := m.jobs[job.ID]; ok && existing.State.IsTerminal() {
		return nil
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MockJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockJobRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.ExternalJobID == externalID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockJobRepo) ListInFlightOlderThan(ctx context.Context, tx repository.Tx, kind model.JobKind, cutoff time.Time, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.Kind == kind && j.State.IsInFlight() && j.ExternalJobID != "" && j.CreatedAt.Before(cutoff) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockJobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Job
	for _, j := range m.jobs {
		if j.OwnerID == ownerID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Get returns the stored job without the copy-on-read, for assertions.
func (m *MockJobRepo) Get(id string) *model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	AdjustCreditsFunc func(ctx context.Context, tx repository.Tx, userID string, delta int) (int, error)
	FindByIDFunc      func(ctx context.Context, tx repository.Tx, id string) (*model.User, error)
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo() *MockUserRepo {
	return &MockUserRepo{users: make(map[string]*model.User)}
}

func (m *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockUserRepo) FindByAPIKey(ctx context.Context, tx repository.Tx, key string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.APIKey == key {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockUserRepo) AdjustCredits(ctx context.Context, tx repository.Tx, userID string, delta int) (int, error) {
	if m.AdjustCreditsFunc != nil {
		return m.AdjustCreditsFunc(ctx, tx, userID, delta)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if u.Credits+delta < 0 {
		return 0, domain.ErrInsufficientCredits
	}
	u.Credits += delta
	return u.Credits, nil
}

func (m *MockUserRepo) Balance(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u.Credits
	}
	return 0
}

// ---- Mock CreditRepository ----

type MockCreditRepo struct {
	mu  sync.Mutex
	txs []*model.CreditTransaction

	AppendFunc            func(ctx context.Context, tx repository.Tx, t *model.CreditTransaction) error
	SumRefundedForJobFunc func(ctx context.Context, tx repository.Tx, jobID string) (int, error)
}

var _ repository.CreditRepository = (*MockCreditRepo)(nil)

func NewMockCreditRepo() *MockCreditRepo {
	return &MockCreditRepo{}
}

func (m *MockCreditRepo) Append(ctx context.Context, tx repository.Tx, t *model.CreditTransaction) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, tx, t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.txs = append(m.txs, &cp)
	return nil
}

func (m *MockCreditRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.CreditTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.CreditTransaction
	for _, t := range m.txs {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockCreditRepo) SumRefundedForJob(ctx context.Context, tx repository.Tx, jobID string) (int, error) {
	if m.SumRefundedForJobFunc != nil {
		return m.SumRefundedForJobFunc(ctx, tx, jobID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, t := range m.txs {
		if t.ReferenceJobID == jobID && t.Amount > 0 {
			sum += t.Amount
		}
	}
	return sum, nil
}

// Transactions returns a snapshot of all appended rows.
func (m *MockCreditRepo) Transactions() []*model.CreditTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.CreditTransaction, len(m.txs))
	copy(out, m.txs)
	return out
}

func (m *MockCreditRepo) CountForJob(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.txs {
		if t.ReferenceJobID == jobID {
			n++
		}
	}
	return n
}

// ---- Mock TransactionManager ----

// MockTxManager runs the callback directly; the mocks are already atomic
// enough for unit tests.
type MockTxManager struct{}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, struct{ mockTx bool }{true})
}

// =============================
// Adapters
// =============================

// ---- Mock ProviderAdapter ----

type MockProvider struct {
	mu sync.Mutex

	SubmitFunc     func(ctx context.Context, spec adapter.SubmitSpec) (*adapter.SubmitResult, error)
	PollStatusFunc func(ctx context.Context, externalJobID string) (*adapter.StatusResult, error)
	CancelFunc     func(ctx context.Context, externalJobID string) bool

	Submitted []adapter.SubmitSpec
	Cancelled []string
	nextID    int
}

var _ adapter.ProviderAdapter = (*MockProvider)(nil)

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Submit(ctx context.Context, spec adapter.SubmitSpec) (*adapter.SubmitResult, error) {
	m.mu.Lock()
	m.Submitted = append(m.Submitted, spec)
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, spec)
	}
	return &adapter.SubmitResult{
		ExternalJobID: "ext-" + string(rune('0'+id)),
		InitialState:  model.CanonicalStarting,
	}, nil
}

func (m *MockProvider) PollStatus(ctx context.Context, externalJobID string) (*adapter.StatusResult, error) {
	if m.PollStatusFunc != nil {
		return m.PollStatusFunc(ctx, externalJobID)
	}
	return &adapter.StatusResult{State: model.CanonicalProcessing}, nil
}

func (m *MockProvider) Cancel(ctx context.Context, externalJobID string) bool {
	m.mu.Lock()
	m.Cancelled = append(m.Cancelled, externalJobID)
	m.mu.Unlock()
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, externalJobID)
	}
	return true
}

// ---- Mock MigratorUseCase ----

type MockMigrator struct {
	mu    sync.Mutex
	Calls int

	MigrateFunc func(ctx context.Context, jobID, ownerID string, outputs []usecase.MigrationInput) []usecase.MigrationResult
}

var _ usecase.MigratorUseCase = (*MockMigrator)(nil)

func (m *MockMigrator) Migrate(ctx context.Context, jobID, ownerID string, outputs []usecase.MigrationInput) []usecase.MigrationResult {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
	if m.MigrateFunc != nil {
		return m.MigrateFunc(ctx, jobID, ownerID, outputs)
	}
	// Default: every output migrates, with a thumbnail for images.
	out := make([]usecase.MigrationResult, 0, len(outputs))
	for _, o := range outputs {
		res := usecase.MigrationResult{
			Index:        o.Index,
			PermanentURL: "https://cdn.test/" + jobID + "/" + itoa(o.Index),
			OK:           true,
		}
		if o.Kind == model.JobKindImage {
			res.ThumbnailURL = res.PermanentURL + "/thumb"
		}
		out = append(out, res)
	}
	return out
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
