package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/roach88/crmsync/internal/crm"
	"github.com/roach88/crmsync/internal/model"
)

// CRM operation names used in call logs and failure injection.
const (
	OpFind        = "find"
	OpCreate      = "create"
	OpPatch       = "patch"
	OpLogActivity = "log_activity"
	OpCreateTask  = "create_task"
	OpCreateDeal  = "create_deal"
)

// Call is one recorded CRM operation.
type Call struct {
	Op    string           `json:"op" yaml:"op"`
	Type  model.EntityType `json:"type,omitempty" yaml:"type,omitempty"`
	Key   string           `json:"key,omitempty" yaml:"key,omitempty"`
	ID    model.RemoteID   `json:"id,omitempty" yaml:"id,omitempty"`
	Attrs model.Attributes `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// Record is a CRM record held by FakeCRM.
type Record struct {
	ID    model.RemoteID
	Type  model.EntityType
	Key   string
	Attrs model.Attributes
}

type failure struct {
	err   error
	apply bool
}

// FakeCRM is an in-memory crm.Client.
//
// Records are matched by natural key exactly as the real CRM searches them:
// companies by website, contacts by their first email. Every call is logged,
// and errors can be queued per operation to simulate outages and rejections.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeCRM struct {
	mu         sync.Mutex
	nextID     int
	records    []*Record
	calls      []Call
	activities []crm.Activity
	tasks      []crm.Task
	deals      []crm.Deal
	failures   map[string][]failure
}

var _ crm.Client = (*FakeCRM)(nil)

// NewFakeCRM returns an empty fake whose first assigned id is 100.
func NewFakeCRM() *FakeCRM {
	return &FakeCRM{nextID: 100, failures: make(map[string][]failure)}
}

// Seed inserts an existing record without logging a call and returns its id.
func (f *FakeCRM) Seed(t model.EntityType, key string, attrs model.Attributes) model.RemoteID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insert(t, key, attrs.Clone())
}

// FailNext queues errors returned by the next calls to op, one per call.
func (f *FakeCRM) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, err := range errs {
		f.failures[op] = append(f.failures[op], failure{err: err})
	}
}

// FailNextAfterApply queues an error returned after the next call to op has
// taken effect, like a write whose response was lost in transit.
func (f *FakeCRM) FailNextAfterApply(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], failure{err: err, apply: true})
}

// Calls returns a copy of the call log.
func (f *FakeCRM) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many calls to op were made.
func (f *FakeCRM) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// CountWrites returns the number of calls that would change remote state.
func (f *FakeCRM) CountWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op != OpFind {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log, keeping records.
func (f *FakeCRM) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Records returns copies of every record of type t in insertion order.
func (f *FakeCRM) Records(t model.EntityType) []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, r := range f.records {
		if r.Type == t {
			out = append(out, Record{ID: r.ID, Type: r.Type, Key: r.Key, Attrs: r.Attrs.Clone()})
		}
	}
	return out
}

// Get returns the record with id, if any.
func (f *FakeCRM) Get(id model.RemoteID) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			return Record{ID: r.ID, Type: r.Type, Key: r.Key, Attrs: r.Attrs.Clone()}, true
		}
	}
	return Record{}, false
}

// Activities returns the logged notes.
func (f *FakeCRM) Activities() []crm.Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.Activity(nil), f.activities...)
}

// Tasks returns the created tasks.
func (f *FakeCRM) Tasks() []crm.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.Task(nil), f.tasks...)
}

// Deals returns the created deals.
func (f *FakeCRM) Deals() []crm.Deal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.Deal(nil), f.deals...)
}

func (f *FakeCRM) Find(ctx context.Context, t model.EntityType, key string) ([]model.RemoteID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpFind, Type: t, Key: key})
	if fl, ok := f.popFailure(OpFind); ok {
		return nil, fl.err
	}
	var ids []model.RemoteID
	for _, r := range f.records {
		if r.Type == t && r.Key == key {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (f *FakeCRM) Create(ctx context.Context, t model.EntityType, attrs model.Attributes) (model.RemoteID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := naturalKeyOf(t, attrs)
	f.calls = append(f.calls, Call{Op: OpCreate, Type: t, Key: key, Attrs: attrs.Clone()})
	fl, failing := f.popFailure(OpCreate)
	if failing && !fl.apply {
		return "", fl.err
	}
	id := f.insert(t, key, attrs.Clone())
	f.calls[len(f.calls)-1].ID = id
	if failing {
		return "", fl.err
	}
	return id, nil
}

func (f *FakeCRM) Patch(ctx context.Context, t model.EntityType, id model.RemoteID, attrs model.Attributes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpPatch, Type: t, ID: id, Attrs: attrs.Clone()})
	fl, failing := f.popFailure(OpPatch)
	if failing && !fl.apply {
		return fl.err
	}
	rec := f.lookup(t, id)
	if rec == nil {
		return model.NewRemoteRejected(fmt.Sprintf("%s %s not found", t, id), 404, nil)
	}
	f.calls[len(f.calls)-1].Key = rec.Key
	for k, v := range attrs {
		rec.Attrs[k] = v
	}
	if failing {
		return fl.err
	}
	return nil
}

func (f *FakeCRM) LogActivity(ctx context.Context, a crm.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	target := a.ContactID
	if a.Type == model.ActivityCompanyNote {
		target = a.CompanyID
	}
	f.calls = append(f.calls, Call{Op: OpLogActivity, ID: target, Attrs: model.Attributes{"type": string(a.Type)}})
	if fl, ok := f.popFailure(OpLogActivity); ok {
		return fl.err
	}
	f.activities = append(f.activities, a)
	return nil
}

func (f *FakeCRM) CreateTask(ctx context.Context, task crm.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpCreateTask, ID: task.ContactID})
	if fl, ok := f.popFailure(OpCreateTask); ok {
		return fl.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *FakeCRM) CreateDeal(ctx context.Context, d crm.Deal) (model.RemoteID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpCreateDeal, ID: d.CompanyID})
	if fl, ok := f.popFailure(OpCreateDeal); ok {
		return "", fl.err
	}
	f.deals = append(f.deals, d)
	id := model.RemoteID(strconv.Itoa(f.nextID))
	f.nextID++
	return id, nil
}

func (f *FakeCRM) insert(t model.EntityType, key string, attrs model.Attributes) model.RemoteID {
	if attrs == nil {
		attrs = model.Attributes{}
	}
	id := model.RemoteID(strconv.Itoa(f.nextID))
	f.nextID++
	f.records = append(f.records, &Record{ID: id, Type: t, Key: key, Attrs: attrs})
	return id
}

func (f *FakeCRM) lookup(t model.EntityType, id model.RemoteID) *Record {
	for _, r := range f.records {
		if r.Type == t && r.ID == id {
			return r
		}
	}
	return nil
}

func (f *FakeCRM) popFailure(op string) (failure, bool) {
	q := f.failures[op]
	if len(q) == 0 {
		return failure{}, false
	}
	f.failures[op] = q[1:]
	return q[0], true
}

// naturalKeyOf derives the natural key from create attributes: website for
// companies, the first email_jsonb entry for contacts.
func naturalKeyOf(t model.EntityType, attrs model.Attributes) string {
	switch t {
	case model.EntityCompany:
		if s, ok := attrs["website"].(string); ok {
			return model.NormalizeDomain(s)
		}
	case model.EntityContact:
		switch emails := attrs["email_jsonb"].(type) {
		case []map[string]string:
			if len(emails) > 0 {
				return model.NormalizeEmail(emails[0]["email"])
			}
		case []any:
			if len(emails) > 0 {
				if m, ok := emails[0].(map[string]any); ok {
					if s, ok := m["email"].(string); ok {
						return model.NormalizeEmail(s)
					}
				}
			}
		}
	}
	return ""
}
