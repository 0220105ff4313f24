package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"tasksync/pkg/batch"
	"tasksync/pkg/providers/googletasks"
	"tasksync/pkg/providers/notion"
	"tasksync/pkg/report"
	"tasksync/pkg/state"
	"tasksync/pkg/task"
)

// State is a step of one sync pass
type State string

const (
	StateLoadingConfig           State = "LOADING_CONFIG"
	StateValidatingPreconditions State = "VALIDATING_PRECONDITIONS"
	StateFetchingSnapshots       State = "FETCHING_SNAPSHOTS"
	StateCreatingMissing         State = "CREATING_MISSING"
	StateMergingMapping          State = "MERGING_MAPPING"
	StatePersisting              State = "PERSISTING"
	StateDone                    State = "DONE"
	StateFailed                  State = "FAILED"
)

// ListConnector opens the list-side adapter for a stored credential
type ListConnector func(ctx context.Context, token googletasks.Token) (task.Source, error)

// DBConnection is an authorized database-side client
type DBConnection interface {
	Schema(ctx context.Context, databaseID string) (notion.SchemaDescriptor, error)
	Bind(props notion.PropsMap) task.Source
}

// DBConnector opens the database-side client for a stored credential
type DBConnector func(ctx context.Context, token notion.Token) (DBConnection, error)

// Notifier tells a user their first sync completed
type Notifier interface {
	SendSyncComplete(ctx context.Context, email string) error
}

// Config wires an Orchestrator
type Config struct {
	Store state.Store
	List  ListConnector
	DB    DBConnector

	// Rate budgets for creations on each side
	ListBatch batch.Config
	DBBatch   batch.Config

	Notifier      Notifier    // optional
	Reports       report.Sink // optional
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

// Result is the outcome of a successful pass
type Result struct {
	Report *report.Report
	User   *state.UserSyncState
}

// Orchestrator runs initial sync passes. Concurrent passes for the same
// user share one execution.
type Orchestrator struct {
	store     state.Store
	list      ListConnector
	db        DBConnector
	listBatch *batch.Creator
	dbBatch   *batch.Creator
	notifier  Notifier
	reports   report.Sink
	timeout   time.Duration
	logger    *slog.Logger

	guard      singleflight.Group
	background sync.WaitGroup
	now        func() time.Time
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	listBatch := config.ListBatch
	if listBatch.RequestsPerSecond <= 0 {
		listBatch = batch.DefaultConfig()
	}
	dbBatch := config.DBBatch
	if dbBatch.RequestsPerSecond <= 0 {
		dbBatch = batch.DefaultConfig()
	}
	timeout := config.NotifyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Orchestrator{
		store:     config.Store,
		list:      config.List,
		db:        config.DB,
		listBatch: batch.NewCreator(listBatch),
		dbBatch:   batch.NewCreator(dbBatch),
		notifier:  config.Notifier,
		reports:   config.Reports,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Wait blocks until background notifications and report uploads finish
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

// Run performs one initial sync pass for a user. A trigger arriving while a
// pass for the same user is in flight joins that pass.
func (o *Orchestrator) Run(ctx context.Context, email string) (*Result, error) {
	email = state.NormalizeEmail(email)
	v, err, _ := o.guard.Do(email, func() (interface{}, error) {
		return o.run(ctx, email)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// pass carries the bookkeeping of one run
type pass struct {
	report *report.Report
	logger *slog.Logger
}

func (p *pass) enter(ctx context.Context, s State) {
	p.report.Transitions = append(p.report.Transitions, string(s))
	p.report.State = string(s)
	p.logger.DebugContext(ctx, "sync state", "state", s)
}

func (p *pass) fail(kind Kind, system task.System, err error) *Error {
	p.report.Transitions = append(p.report.Transitions, string(StateFailed))
	p.report.State = string(StateFailed)
	p.report.Kind = string(kind)
	p.report.System = system
	p.report.Message = err.Error()
	return &Error{Kind: kind, System: system, Report: p.report, Err: err}
}

func (o *Orchestrator) run(ctx context.Context, email string) (*Result, error) {
	passID := uuid.NewString()
	p := &pass{
		report: &report.Report{
			PassID:    passID,
			User:      email,
			StartedAt: o.now().UTC(),
			Fetched:   make(map[task.System]int),
		},
		logger: o.logger.With("user", email, "pass_id", passID),
	}

	result, syncErr := o.execute(ctx, p, email)
	p.report.FinishedAt = o.now().UTC()

	if syncErr != nil {
		p.logger.WarnContext(ctx, "sync pass failed", "state", StateFailed, "kind", syncErr.Kind, "system", syncErr.System, "error", syncErr.Err)
		if syncErr.Kind != KindNotConfigured || !errors.Is(syncErr.Err, state.ErrNotFound) {
			o.recordFailure(ctx, p, email, syncErr)
		}
		o.publish(ctx, p.report)
		return nil, syncErr
	}

	p.logger.InfoContext(ctx, "sync pass completed", "state", StateDone, "mapping_size", p.report.MappingSize)
	o.publish(ctx, p.report)
	return result, nil
}

func (o *Orchestrator) execute(ctx context.Context, p *pass, email string) (*Result, *Error) {
	p.enter(ctx, StateLoadingConfig)
	user, err := o.store.GetUser(ctx, email)
	if errors.Is(err, state.ErrNotFound) {
		return nil, p.fail(KindNotConfigured, "", err)
	}
	if err != nil {
		return nil, p.fail(KindInternal, "", err)
	}
	if system, err := checkConfigured(user); err != nil {
		return nil, p.fail(KindNotConfigured, system, err)
	}
	firstSync := user.LastSynced == nil

	listSource, err := o.list(ctx, *user.GoogleToken)
	if err != nil {
		kind, system := classify(err)
		return nil, p.fail(kind, orSystem(system, task.SystemList), err)
	}
	dbConn, err := o.db(ctx, *user.NotionToken)
	if err != nil {
		kind, system := classify(err)
		return nil, p.fail(kind, orSystem(system, task.SystemDB), err)
	}

	p.enter(ctx, StateValidatingPreconditions)
	schema, err := dbConn.Schema(ctx, user.DatabaseID)
	if err != nil {
		kind, system := classify(err)
		return nil, p.fail(kind, system, fmt.Errorf("fetching database schema: %w", err))
	}
	validation := notion.Validate(schema)
	if !validation.Valid() {
		failure := p.fail(KindSchemaInvalid, task.SystemDB, fmt.Errorf("database %s is missing required properties", user.DatabaseID))
		failure.Issues = validation.Issues
		p.report.Issues = validation.Issues
		return nil, failure
	}
	dbSource := dbConn.Bind(*validation.Props)

	p.enter(ctx, StateFetchingSnapshots)
	listTasks, dbTasks, syncErr := o.fetchSnapshots(ctx, p, user, listSource, dbSource)
	if syncErr != nil {
		return nil, syncErr
	}

	p.enter(ctx, StateCreatingMissing)
	listPairs, dbPairs, syncErr := o.createMissing(ctx, p, user, listTasks, dbTasks, listSource, dbSource)
	if syncErr != nil {
		return nil, syncErr
	}

	p.enter(ctx, StateMergingMapping)
	// list-sourced pairs first, then database-sourced pairs
	merged := user.Mapping.Append(task.SystemList, listPairs).Append(task.SystemDB, dbPairs)

	p.enter(ctx, StatePersisting)
	syncedAt := o.now().UTC()
	if err := o.store.SaveSyncResult(ctx, email, merged, syncedAt); err != nil {
		p.logger.ErrorContext(ctx, "mapping not persisted, created tasks are uncorrelated",
			"created_in_db", len(listPairs), "created_in_list", len(dbPairs))
		return nil, p.fail(KindInternal, "", fmt.Errorf("saving sync result: %w", err))
	}
	p.report.MappingSize = len(merged)

	p.enter(ctx, StateDone)

	user.Mapping = merged
	user.LastSynced = &syncedAt
	user.Modified = syncedAt
	user.LastError = nil

	if firstSync {
		o.notify(email, p.logger)
	}

	return &Result{Report: p.report, User: user}, nil
}

func checkConfigured(user *state.UserSyncState) (task.System, error) {
	switch {
	case !user.HasCredential(task.SystemList):
		return task.SystemList, errors.New("google tasks is not connected")
	case !user.HasCredential(task.SystemDB):
		return task.SystemDB, errors.New("notion is not connected")
	case user.TasklistID == "":
		return task.SystemList, errors.New("no task list selected")
	case user.DatabaseID == "":
		return task.SystemDB, errors.New("no database selected")
	}
	return "", nil
}

func orSystem(s, fallback task.System) task.System {
	if s == "" {
		return fallback
	}
	return s
}

// fetchSnapshots reads both sides concurrently. A rejected credential on
// either side cancels the other fetch and wins over any other failure.
func (o *Orchestrator) fetchSnapshots(ctx context.Context, p *pass, user *state.UserSyncState, listSource, dbSource task.Source) ([]task.NormalizedTask, []task.NormalizedTask, *Error) {
	var listTasks, dbTasks []task.NormalizedTask
	var listErr, dbErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		listTasks, listErr = listSource.FetchOpenTasks(gctx, user.TasklistID)
		return listErr
	})
	g.Go(func() error {
		dbTasks, dbErr = dbSource.FetchOpenTasks(gctx, user.DatabaseID)
		return dbErr
	})
	_ = g.Wait()

	if err := pickFailure(listErr, dbErr); err != nil {
		kind, system := classify(err)
		return nil, nil, p.fail(kind, system, fmt.Errorf("fetching open tasks: %w", err))
	}

	p.report.Fetched[task.SystemList] = len(listTasks)
	p.report.Fetched[task.SystemDB] = len(dbTasks)
	p.logger.InfoContext(ctx, "fetched open tasks", "state", StateFetchingSnapshots, "list", len(listTasks), "db", len(dbTasks))
	return listTasks, dbTasks, nil
}

// pickFailure prefers a rejected credential, then a failure that is not the
// cancellation caused by the sibling.
func pickFailure(errs ...error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if task.IsUnauthorized(err) {
			return err
		}
		if first == nil || errors.Is(first, context.Canceled) {
			first = err
		}
	}
	return first
}

// createMissing mirrors every fetched task into the opposite system. Both
// batches run concurrently and both settle before the outcome is decided.
func (o *Orchestrator) createMissing(ctx context.Context, p *pass, user *state.UserSyncState, listTasks, dbTasks []task.NormalizedTask, listSource, dbSource task.Source) ([]task.CorrelationPair, []task.CorrelationPair, *Error) {
	var listPairs, dbPairs []task.CorrelationPair
	var toDBErr, toListErr error

	var g errgroup.Group
	g.Go(func() error {
		listPairs, toDBErr = o.dbBatch.CreateAll(ctx, listTasks, user.DatabaseID, dbSource, task.SystemDB)
		return nil
	})
	g.Go(func() error {
		dbPairs, toListErr = o.listBatch.CreateAll(ctx, dbTasks, user.TasklistID, listSource, task.SystemList)
		return nil
	})
	_ = g.Wait()

	toDB := direction(task.SystemList, task.SystemDB, len(listTasks), listPairs, toDBErr)
	toList := direction(task.SystemDB, task.SystemList, len(dbTasks), dbPairs, toListErr)
	p.report.Directions = []report.Direction{toDB, toList}

	if toDBErr == nil && toListErr == nil {
		p.logger.InfoContext(ctx, "created missing tasks", "state", StateCreatingMissing, "in_db", len(listPairs), "in_list", len(dbPairs))
		return listPairs, dbPairs, nil
	}

	// Nothing from this pass will be persisted, so every created task is orphaned
	toDB.Orphaned, toList.Orphaned = orphaned(listPairs, toDBErr), orphaned(dbPairs, toListErr)
	p.report.Directions = []report.Direction{toDB, toList}

	failedErr := pickFailure(toDBErr, toListErr)
	failedSystem := task.SystemDB
	if failedErr == toListErr {
		failedSystem = task.SystemList
	}

	attrs := []any{
		"state", StateCreatingMissing,
		"failed_side", failedSystem,
		"created_in_db", toDB.Created,
		"created_in_list", toList.Created,
		"orphaned_in_db", toDB.Orphaned,
		"orphaned_in_list", toList.Orphaned,
	}
	if toDBErr == nil {
		attrs = append(attrs, "succeeded_side", task.SystemDB)
	} else if toListErr == nil {
		attrs = append(attrs, "succeeded_side", task.SystemList)
	}
	p.logger.ErrorContext(ctx, "creation batch failed, created tasks left uncorrelated", attrs...)

	if task.IsUnauthorized(failedErr) {
		return nil, nil, p.fail(KindAuthExpired, failedSystem, fmt.Errorf("creating tasks: %w", failedErr))
	}
	return nil, nil, p.fail(KindPartialSync, failedSystem, fmt.Errorf("creating tasks: %w", failedErr))
}

func direction(source, target task.System, total int, pairs []task.CorrelationPair, err error) report.Direction {
	d := report.Direction{Source: source, Target: target, Total: total, Created: len(pairs)}
	var batchErr *batch.Error
	if errors.As(err, &batchErr) {
		d.Created = len(batchErr.Created)
		d.Failed = batchErr.Failed
	}
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

func orphaned(pairs []task.CorrelationPair, err error) []string {
	var batchErr *batch.Error
	if errors.As(err, &batchErr) {
		pairs = batchErr.Created
	}
	ids := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.CreatedID)
	}
	return ids
}

func (o *Orchestrator) recordFailure(ctx context.Context, p *pass, email string, syncErr *Error) {
	record := state.SyncErrorRecord{
		Kind:    string(syncErr.Kind),
		System:  string(syncErr.System),
		Message: syncErr.Err.Error(),
		PassID:  p.report.PassID,
		At:      p.report.FinishedAt,
	}
	if err := o.store.RecordSyncError(ctx, email, record); err != nil {
		p.logger.ErrorContext(ctx, "failed to record sync error", "error", err)
	}
}

// notify runs detached from the pass; its outcome is only logged
func (o *Orchestrator) notify(email string, logger *slog.Logger) {
	if o.notifier == nil {
		return
	}
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		if err := o.notifier.SendSyncComplete(ctx, email); err != nil {
			logger.Error("sync notification failed", "error", err)
			return
		}
		logger.Info("sync notification sent")
	}()
}

func (o *Orchestrator) publish(ctx context.Context, r *report.Report) {
	if o.reports == nil {
		return
	}
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		if err := o.reports.Publish(ctx, r); err != nil {
			o.logger.Error("failed to publish sync report", "pass_id", r.PassID, "error", err)
		}
	}()
}
