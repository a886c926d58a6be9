package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"kundimport/internal/ingest"
)

var (
	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("import session not found")

	// ErrWrongPhase is returned when an operation does not apply to the
	// session's current phase (e.g. committing before review is reached).
	ErrWrongPhase = errors.New("operation not valid in current session phase")
)

// maxListLines caps the error and warning lists shown during review.
const maxListLines = 10

// defaultSessionTTL is how long a finished session stays queryable.
const defaultSessionTTL = 10 * time.Minute

// Options tunes the import service. Zero values fall back to defaults.
type Options struct {
	MaxConcurrent int
	MaxWait       time.Duration
	MaxFileSize   int64
	BatchSize     int
	SessionTTL    time.Duration
	CommitTimeout time.Duration
}

// Service owns import sessions end to end: async read/validate, the review
// pause, and the commit that writes through the Store.
type Service struct {
	store    Store
	log      *slog.Logger
	limiter  *Limiter
	orgLocks *orgLocks

	maxFileSize   int64
	batchSize     int
	sessionTTL    time.Duration
	commitTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id             string
	organizationID string
	fileName       string
	startedAt      time.Time

	mu         sync.Mutex
	phase      Phase
	candidates []Candidate
	flags      []DuplicateFlag
	excluded   map[int]bool
	progress   Progress
	result     *Result
	listeners  []chan Progress
	cancelled  bool
	cancelRead context.CancelFunc
}

// NewService builds the import service around a Store.
func NewService(store Store, log *slog.Logger, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = ingest.DefaultMaxFileSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 2 * time.Minute
	}
	return &Service{
		store:         store,
		log:           log,
		limiter:       NewLimiter(opts.MaxConcurrent, opts.MaxWait),
		orgLocks:      newOrgLocks(),
		maxFileSize:   opts.MaxFileSize,
		batchSize:     opts.BatchSize,
		sessionTTL:    opts.SessionTTL,
		commitTimeout: opts.CommitTimeout,
	}
}

// Limiter exposes the concurrency gate for shutdown draining.
func (s *Service) Limiter() *Limiter {
	return s.limiter
}

// Start accepts an uploaded file, reserves a processing slot and kicks off
// asynchronous read/validate/duplicate work. It returns the session id
// immediately; progress is observed via Subscribe or Progress.
func (s *Service) Start(ctx context.Context, organizationID, fileName string, data []byte) (string, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:             uuid.NewString(),
		organizationID: organizationID,
		fileName:       fileName,
		startedAt:      time.Now(),
		phase:          PhaseStarting,
		excluded:       make(map[int]bool),
		cancelRead:     cancel,
	}
	sess.progress = Progress{
		SessionID:      sess.id,
		OrganizationID: organizationID,
		Phase:          PhaseStarting,
		FileName:       fileName,
	}

	s.mu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[string]*session)
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.log.Info("import session started",
		"session_id", sess.id,
		"organization_id", organizationID,
		"file", fileName,
		"size_bytes", len(data))

	go s.process(readCtx, sess, data)

	return sess.id, nil
}

// process runs the read and validate phases, then parks the session in
// review. The processing slot is released when review (or failure) is
// reached; the commit step is gated per organization instead.
func (s *Service) process(ctx context.Context, sess *session, data []byte) {
	defer s.limiter.Release()

	sess.setPhase(PhaseReading)
	s.notify(sess)

	rows, err := ingest.Read(sess.fileName, data, s.maxFileSize)
	if err != nil {
		s.fail(sess, err)
		return
	}

	sess.mu.Lock()
	sess.progress.TotalRows = len(rows)
	sess.mu.Unlock()

	sess.setPhase(PhaseValidating)
	s.notify(sess)

	candidates := make([]Candidate, 0, len(rows))
	for i, row := range rows {
		if ctx.Err() != nil {
			s.cancelFinish(sess)
			return
		}
		candidates = append(candidates, ValidateRow(row.Number, NormalizeRow(row)))

		sess.mu.Lock()
		sess.progress.ProcessedRows = i + 1
		sess.mu.Unlock()
		s.notify(sess)
	}

	existing, err := s.store.FetchExisting(ctx, sess.organizationID)
	if err != nil {
		// Cancel mid-fetch aborts the query via the read context; report
		// that as a cancellation, not a failure.
		if ctx.Err() != nil {
			s.cancelFinish(sess)
			return
		}
		s.fail(sess, fmt.Errorf("fetch existing customers: %w", err))
		return
	}
	flags := DetectDuplicates(candidates, existing)

	sess.mu.Lock()
	if sess.cancelled {
		sess.mu.Unlock()
		s.cancelFinish(sess)
		return
	}
	sess.candidates = candidates
	sess.flags = flags
	sess.mu.Unlock()

	sess.setPhase(PhaseReview)
	s.notify(sess)

	s.log.Info("import session ready for review",
		"session_id", sess.id,
		"rows", len(rows),
		"duplicates", len(flags))
}

// Summary builds the review view for the session's current state,
// reflecting any exclusions made so far. Valid from review onward.
func (s *Service) Summary(sessionID string) (*Summary, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.phase {
	case PhaseReview, PhasePersisting, PhaseComplete:
	default:
		return nil, ErrWrongPhase
	}

	sum := &Summary{Flags: sess.flags}
	var errorLines, warningLines []string

	for _, c := range sess.candidates {
		if !c.Importable() {
			sum.Errors++
			errorLines = append(errorLines, ErrorLine(c))
			continue
		}
		if len(c.Warnings) > 0 {
			sum.Warnings++
			warningLines = append(warningLines, WarningLine(c))
		}
		if !sess.excluded[c.RowNumber] {
			sum.Ready++
		}
	}
	sum.Duplicates = len(sess.flags)
	sum.ErrorLines = capLines(errorLines)
	sum.WarningLines = capLines(warningLines)

	return sum, nil
}

// Exclude removes rows from the importable set during review. Unknown row
// numbers are ignored; excluding an already-excluded row is a no-op.
func (s *Service) Exclude(sessionID string, rowNumbers []int) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.phase != PhaseReview {
		return ErrWrongPhase
	}
	for _, n := range rowNumbers {
		sess.excluded[n] = true
	}
	return nil
}

// Commit persists the session's accepted candidates. Only valid in the
// review phase. Commits for the same organization run one at a time so
// customer numbers never collide.
func (s *Service) Commit(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.phase != PhaseReview {
		sess.mu.Unlock()
		return nil, ErrWrongPhase
	}
	sess.phase = PhasePersisting
	sess.progress.Phase = PhasePersisting

	accepted := make([]Candidate, 0, len(sess.candidates))
	for _, c := range sess.candidates {
		if c.Importable() && !sess.excluded[c.RowNumber] {
			accepted = append(accepted, c)
		}
	}
	sort.Slice(accepted, func(i, j int) bool {
		return accepted[i].RowNumber < accepted[j].RowNumber
	})
	totalRows := sess.progress.TotalRows
	sess.progress.TotalBatches = (len(accepted) + s.batchSize - 1) / s.batchSize
	sess.mu.Unlock()
	s.notify(sess)

	commitCtx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	unlock := s.orgLocks.Lock(sess.organizationID)
	defer unlock()

	start := time.Now()
	result := &Result{
		SessionID:      sess.id,
		OrganizationID: sess.organizationID,
		FileName:       sess.fileName,
		TotalRows:      totalRows,
	}

	count, err := s.store.CountCustomers(commitCtx, sess.organizationID)
	if err != nil {
		return s.finishCommit(sess, result, 0, start, fmt.Errorf("count customers: %w", err))
	}

	imported, err := persistBatches(
		commitCtx, s.store, sess.organizationID,
		accepted, sess.fileName, count+1, s.batchSize,
		func(done, total int) {
			sess.mu.Lock()
			sess.progress.DoneBatches = done
			sess.mu.Unlock()
			s.notify(sess)
		})
	if imported > 0 {
		result.FirstNumber = FormatCustomerNumber(count + 1)
		result.LastNumber = FormatCustomerNumber(count + imported)
	}
	return s.finishCommit(sess, result, imported, start, err)
}

// finishCommit records history, closes the session and returns the final
// result. A partial failure still reports how many rows were persisted.
func (s *Service) finishCommit(sess *session, result *Result, imported int, start time.Time, err error) (*Result, error) {
	result.Imported = imported
	result.Skipped = result.TotalRows - imported
	result.Duration = time.Since(start)

	phase := PhaseComplete
	if err != nil {
		phase = PhaseFailed
		result.Error = err.Error()
		s.log.Error("import commit failed",
			"session_id", sess.id,
			"organization_id", sess.organizationID,
			"imported", imported,
			"error", err)
	} else {
		s.log.Info("import committed",
			"session_id", sess.id,
			"organization_id", sess.organizationID,
			"imported", imported,
			"duration", result.Duration)
	}

	rec := ImportRecord{
		OrganizationID: sess.organizationID,
		FileName:       sess.fileName,
		TotalRows:      result.TotalRows,
		Imported:       imported,
		Skipped:        result.Skipped,
		Failed:         err != nil,
		ImportedAt:     time.Now(),
	}
	if histErr := s.store.RecordImport(context.Background(), rec); histErr != nil {
		s.log.Error("record import history", "session_id", sess.id, "error", histErr)
	}

	sess.mu.Lock()
	sess.phase = phase
	sess.progress.Phase = phase
	if err != nil {
		sess.progress.Error = result.Error
	}
	sess.result = result
	sess.mu.Unlock()

	s.notify(sess)
	s.closeListeners(sess)
	s.scheduleCleanup(sess.id)

	if err != nil {
		return result, err
	}
	return result, nil
}

// Cancel abandons a session before persistence begins. Nothing has been
// written at that point, so cancellation never needs a rollback.
func (s *Service) Cancel(sessionID string) error {
	sess, err := s.get(sessionID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	switch sess.phase {
	case PhasePersisting, PhaseComplete, PhaseFailed, PhaseCancelled:
		sess.mu.Unlock()
		return ErrWrongPhase
	}
	sess.cancelled = true
	inReview := sess.phase == PhaseReview
	sess.mu.Unlock()

	sess.cancelRead()
	if inReview {
		// The processing goroutine is already gone; finish here.
		s.cancelFinish(sess)
	}
	return nil
}

// Progress returns the session's current progress snapshot.
func (s *Service) Progress(sessionID string) (Progress, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return Progress{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.progress, nil
}

// Result returns the final outcome once the session has completed or
// failed.
func (s *Service) Result(sessionID string) (*Result, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.result == nil {
		return nil, ErrWrongPhase
	}
	return sess.result, nil
}

// Subscribe registers a progress listener. The channel is buffered and
// closed when the session finishes; slow consumers miss intermediate
// snapshots instead of blocking the pipeline.
func (s *Service) Subscribe(sessionID string) (<-chan Progress, error) {
	sess, err := s.get(sessionID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 16)
	sess.mu.Lock()
	switch sess.phase {
	case PhaseComplete, PhaseFailed, PhaseCancelled:
		snapshot := sess.progress
		sess.mu.Unlock()
		ch <- snapshot
		close(ch)
		return ch, nil
	}
	sess.listeners = append(sess.listeners, ch)
	snapshot := sess.progress
	sess.mu.Unlock()

	ch <- snapshot
	return ch, nil
}

// Unsubscribe removes a listener registered with Subscribe.
func (s *Service) Unsubscribe(sessionID string, ch <-chan Progress) {
	sess, err := s.get(sessionID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i, l := range sess.listeners {
		if l == ch {
			sess.listeners = append(sess.listeners[:i], sess.listeners[i+1:]...)
			close(l)
			return
		}
	}
}

func (s *Service) get(sessionID string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (sess *session) setPhase(p Phase) {
	sess.mu.Lock()
	sess.phase = p
	sess.progress.Phase = p
	sess.mu.Unlock()
}

// notify fans the current snapshot out to listeners without blocking on
// any of them.
func (s *Service) notify(sess *session) {
	sess.mu.Lock()
	snapshot := sess.progress
	listeners := make([]chan Progress, len(sess.listeners))
	copy(listeners, sess.listeners)
	sess.mu.Unlock()

	for _, ch := range listeners {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (s *Service) closeListeners(sess *session) {
	sess.mu.Lock()
	listeners := sess.listeners
	sess.listeners = nil
	sess.mu.Unlock()

	for _, ch := range listeners {
		close(ch)
	}
}

func (s *Service) fail(sess *session, err error) {
	s.log.Error("import session failed",
		"session_id", sess.id,
		"organization_id", sess.organizationID,
		"error", err)

	sess.mu.Lock()
	sess.phase = PhaseFailed
	sess.progress.Phase = PhaseFailed
	sess.progress.Error = err.Error()
	sess.result = &Result{
		SessionID:      sess.id,
		OrganizationID: sess.organizationID,
		FileName:       sess.fileName,
		TotalRows:      sess.progress.TotalRows,
		Error:          err.Error(),
	}
	sess.mu.Unlock()

	s.notify(sess)
	s.closeListeners(sess)
	s.scheduleCleanup(sess.id)
}

func (s *Service) cancelFinish(sess *session) {
	sess.mu.Lock()
	if sess.phase == PhaseCancelled {
		sess.mu.Unlock()
		return
	}
	sess.phase = PhaseCancelled
	sess.progress.Phase = PhaseCancelled
	sess.mu.Unlock()

	s.log.Info("import session cancelled", "session_id", sess.id)
	s.notify(sess)
	s.closeListeners(sess)
	s.scheduleCleanup(sess.id)
}

// scheduleCleanup drops the session from memory after the TTL so finished
// sessions stay queryable for a while but do not accumulate.
func (s *Service) scheduleCleanup(sessionID string) {
	time.AfterFunc(s.sessionTTL, func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
	})
}

// capLines limits a review list to maxListLines entries, replacing the
// tail with a "…and N more" marker.
func capLines(lines []string) []string {
	if len(lines) <= maxListLines {
		return lines
	}
	capped := make([]string, maxListLines, maxListLines+1)
	copy(capped, lines[:maxListLines])
	return append(capped, fmt.Sprintf("…and %d more", len(lines)-maxListLines))
}
