package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"go.uber.org/zap"
)

const (
	testWorkspaceID = "5b0c7c38-41a3-4a49-a0a9-93f5a1d7f3b2"
	testCallerID    = "c0ffee00-0000-4000-8000-000000000001"
	testSourceID    = "1a1a1a1a-0000-4000-8000-00000000000a"
	testTargetID    = "2b2b2b2b-0000-4000-8000-00000000000b"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeMembers struct {
	member      bool
	permissions []string
	memberErr   error
	permErr     error
}

func (f *fakeMembers) IsMember(ctx context.Context, wsID, userID string) (bool, error) {
	return f.member, f.memberErr
}

func (f *fakeMembers) Permissions(ctx context.Context, wsID, userID string) ([]string, error) {
	return f.permissions, f.permErr
}

func allowedMembers() *fakeMembers {
	return &fakeMembers{member: true, permissions: []string{PermissionDeleteUsers, PermissionUpdateUsers}}
}

type fakeUsers struct {
	existing map[string]bool
	err      error
}

func (f *fakeUsers) Exists(ctx context.Context, wsID, userID string) (bool, error) {
	return f.existing[userID], f.err
}

func bothUsers() *fakeUsers {
	return &fakeUsers{existing: map[string]bool{testSourceID: true, testTargetID: true}}
}

// fakeReferences holds, per pair, the row ids still pointing at the source user.
type fakeReferences struct {
	rows      map[string][]string
	failOn    map[string]error
	selects   int
	updateAll []string
}

func newFakeReferences() *fakeReferences {
	return &fakeReferences{rows: map[string][]string{}, failOn: map[string]error{}}
}

func (f *fakeReferences) seed(pair TableColumnPair, n int) {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", pair, i)
	}
	f.rows[pair.String()] = ids
}

func (f *fakeReferences) SelectIDs(ctx context.Context, pair TableColumnPair, sourceID string, limit int) ([]string, error) {
	f.selects++
	if err := f.failOn[pair.String()]; err != nil {
		return nil, err
	}
	ids := f.rows[pair.String()]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out, nil
}

func (f *fakeReferences) UpdateIDs(ctx context.Context, pair TableColumnPair, ids []string, targetID string) (int, error) {
	remaining := f.rows[pair.String()]
	f.rows[pair.String()] = remaining[len(ids):]
	return len(ids), nil
}

func (f *fakeReferences) UpdateAll(ctx context.Context, pair TableColumnPair, sourceID, targetID string) (int, error) {
	f.updateAll = append(f.updateAll, pair.String())
	if err := f.failOn[pair.String()]; err != nil {
		return 0, err
	}
	n := len(f.rows[pair.String()])
	f.rows[pair.String()] = nil
	return n, nil
}

// fakeProcedures answers phase procedures with canned payloads or errors.
type fakeProcedures struct {
	payloads map[string]string
	errs     map[string]error
	calls    []string
}

func newFakeProcedures() *fakeProcedures {
	return &fakeProcedures{
		payloads: map[string]string{
			"merge_workspace_users_phase2": `{"success":true,"phase":2,"migrated_tables":["user_group_attendance.user_id (3 rows)"],"collision_tables":["workspace_user_groups_users"],"collision_details":[{"table":"workspace_user_groups_users","deleted_count":1,"pk_column":"group_id","deleted_pk_values":["g1"]}]}`,
			"merge_workspace_users_phase3": `{"success":true,"phase":3,"custom_fields_merged":4}`,
			"merge_workspace_users_phase4": `{"success":true,"phase":4,"link_transferred":true}`,
			"merge_workspace_users_phase5": `{"success":true,"phase":5,"source_deleted":true}`,
		},
		errs: map[string]error{},
	}
}

func (f *fakeProcedures) CallPhase(ctx context.Context, procedure, sourceID, targetID, wsID string) (json.RawMessage, error) {
	f.calls = append(f.calls, procedure)
	if err := f.errs[procedure]; err != nil {
		return nil, err
	}
	return json.RawMessage(f.payloads[procedure]), nil
}

type finishedRun struct {
	id     string
	status RunStatus
	result *PhasedMergeResult
}

type fakeLedger struct {
	resumable *Run
	findErr   error
	beginErr  error
	finishErr error
	begun     []*ValidatedRequest
	finished  []finishedRun
}

func (f *fakeLedger) FindResumable(ctx context.Context, wsID, sourceID, targetID string) (*Run, error) {
	return f.resumable, f.findErr
}

func (f *fakeLedger) Begin(ctx context.Context, req *ValidatedRequest) (*Run, error) {
	copied := *req
	f.begun = append(f.begun, &copied)
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &Run{ID: "run-1", Status: RunStatusRunning}, nil
}

func (f *fakeLedger) Finish(ctx context.Context, runID string, status RunStatus, result *PhasedMergeResult) error {
	f.finished = append(f.finished, finishedRun{id: runID, status: status, result: result})
	return f.finishErr
}

func (f *fakeLedger) Get(ctx context.Context, wsID, runID string) (*Run, error) {
	return &Run{ID: runID}, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	err      error
	released []string
	extended []string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]bool{}}
}

func (f *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	if f.held[key] {
		return nil, false, nil
	}
	f.held[key] = true
	return &fakeLease{locker: f, key: key}, true, nil
}

type fakeLease struct {
	locker *fakeLocker
	key    string
}

func (l *fakeLease) Extend(ctx context.Context, ttl time.Duration) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	l.locker.extended = append(l.locker.extended, l.key)
	return nil
}

func (l *fakeLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	l.locker.released = append(l.locker.released, l.key)
	return nil
}

type fakeNotifier struct {
	results []*PhasedMergeResult
	err     error
}

func (f *fakeNotifier) MergeFinished(ctx context.Context, req *ValidatedRequest, result *PhasedMergeResult) error {
	f.results = append(f.results, result)
	return f.err
}
