package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/gradebook-api/internal/models"
	"github.com/noah-isme/gradebook-api/internal/repository"
)

// fakeClasses resolves class access from in-memory memberships.
type fakeClasses struct {
	classes map[string]*models.Class
	members map[string]map[string]models.ClassRole
}

func newFakeClasses() *fakeClasses {
	return &fakeClasses{classes: map[string]*models.Class{}, members: map[string]map[string]models.ClassRole{}}
}

func (f *fakeClasses) addClass(id, ownerID string) {
	f.classes[id] = &models.Class{ID: id, Name: id, OwnerID: ownerID}
	f.join(id, ownerID, models.ClassRoleTeacher)
}

func (f *fakeClasses) join(classID, userID string, role models.ClassRole) {
	if f.members[classID] == nil {
		f.members[classID] = map[string]models.ClassRole{}
	}
	f.members[classID][userID] = role
}

func (f *fakeClasses) Access(_ context.Context, actor models.Actor, classID string) (*ClassAccess, error) {
	class, ok := f.classes[classID]
	if !ok {
		return nil, fmt.Errorf("class %s: %w", classID, sql.ErrNoRows)
	}
	access := &ClassAccess{Actor: actor, Class: class}
	if role, ok := f.members[classID][actor.UserID]; ok {
		access.Member = &models.ClassMember{ClassID: classID, UserID: actor.UserID, Role: role}
	}
	return access, nil
}

func (f *fakeClasses) ValidatePermission(ctx context.Context, actor models.Actor, classID string, opts models.PermissionOptions) (*ClassAccess, error) {
	access, err := f.Access(ctx, actor, classID)
	if err != nil {
		return nil, err
	}
	if err := EvaluateClassPermission(*access, opts).Err(); err != nil {
		return nil, err
	}
	return access, nil
}

func (f *fakeClasses) TeacherIDs(_ context.Context, classID string) ([]string, error) {
	var ids []string
	for userID, role := range f.members[classID] {
		if role == models.ClassRoleTeacher {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// fakeRoster holds class rosters.
type fakeRoster struct {
	students map[string][]models.Student
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{students: map[string][]models.Student{}}
}

func (f *fakeRoster) add(classID, studentID, name string, userID *string) {
	f.students[classID] = append(f.students[classID], models.Student{ID: studentID, ClassID: classID, Name: name, UserID: userID})
}

func (f *fakeRoster) ListByClass(_ context.Context, classID string) ([]models.Student, error) {
	return append([]models.Student(nil), f.students[classID]...), nil
}

func (f *fakeRoster) FindByID(_ context.Context, classID, studentID string) (*models.Student, error) {
	for _, st := range f.students[classID] {
		if st.ID == studentID {
			st := st
			return &st, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRoster) FindByUser(_ context.Context, classID, userID string) (*models.Student, error) {
	for _, st := range f.students[classID] {
		if st.UserID != nil && *st.UserID == userID {
			st := st
			return &st, nil
		}
	}
	return nil, sql.ErrNoRows
}

// fakeGradebook keeps compositions and grades together so that the guarded
// checks see the same state a locked transaction would.
type fakeGradebook struct {
	mu           sync.Mutex
	roster       *fakeRoster
	compositions map[string]*models.Composition
	grades       map[string]*models.Grade
}

func newFakeGradebook(roster *fakeRoster) *fakeGradebook {
	return &fakeGradebook{roster: roster, compositions: map[string]*models.Composition{}, grades: map[string]*models.Grade{}}
}

func (f *fakeGradebook) nextID() string {
	return uuid.NewString()
}

func (f *fakeGradebook) snapshot(classID string) []models.Composition {
	var out []models.Composition
	for _, c := range f.compositions {
		if c.ClassID == classID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (f *fakeGradebook) gradeFor(compositionID, studentID string) *models.Grade {
	for _, g := range f.grades {
		if g.CompositionID == compositionID && g.StudentID == studentID {
			return g
		}
	}
	return nil
}

func (f *fakeGradebook) detail(g *models.Grade) models.GradeDetail {
	c := f.compositions[g.CompositionID]
	return models.GradeDetail{Grade: *g, CompositionName: c.Name, Percentage: c.Percentage, Order: c.Order, Finalized: c.Finalized}
}

// compositionRepository

func (f *fakeGradebook) FindByID(_ context.Context, id string) (*models.Composition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.compositions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (f *fakeGradebook) ListByClass(_ context.Context, classID string) ([]models.Composition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(classID), nil
}

func (f *fakeGradebook) Create(_ context.Context, composition *models.Composition, check repository.SnapshotCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := check(f.snapshot(composition.ClassID)); err != nil {
		return err
	}
	composition.ID = f.nextID()
	cp := *composition
	f.compositions[cp.ID] = &cp
	for _, st := range f.roster.students[composition.ClassID] {
		id := f.nextID()
		f.grades[id] = &models.Grade{ID: id, StudentID: st.ID, ClassID: st.ClassID, CompositionID: cp.ID}
	}
	return nil
}

func (f *fakeGradebook) UpdatePercentage(_ context.Context, composition *models.Composition, percentage int, check repository.SnapshotCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := check(f.snapshot(composition.ClassID)); err != nil {
		return err
	}
	f.compositions[composition.ID].Percentage = percentage
	composition.Percentage = percentage
	return nil
}

func (f *fakeGradebook) Rename(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.compositions[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Name = name
	return nil
}

func (f *fakeGradebook) Reorder(_ context.Context, classID string, plan repository.ReorderPlanner) ([]models.OrderChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changes, err := plan(f.snapshot(classID))
	if err != nil {
		return nil, err
	}
	for _, ch := range changes {
		f.compositions[ch.CompositionID].Order = ch.To
	}
	return changes, nil
}

func (f *fakeGradebook) Delete(_ context.Context, classID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.compositions[id]
	if !ok || c.ClassID != classID {
		return sql.ErrNoRows
	}
	delete(f.compositions, id)
	for gid, g := range f.grades {
		if g.CompositionID == id {
			delete(f.grades, gid)
		}
	}
	for i, rest := range f.snapshot(classID) {
		f.compositions[rest.ID].Order = i + 1
	}
	return nil
}

func (f *fakeGradebook) Finalize(_ context.Context, id string, check repository.FinalizeCheck) (*models.Composition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.compositions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	ungraded := 0
	for _, g := range f.grades {
		if g.CompositionID == id && g.Value == nil {
			ungraded++
		}
	}
	cp := *c
	if err := check(&cp, ungraded); err != nil {
		return nil, err
	}
	c.Finalized = true
	cp.Finalized = true
	return &cp, nil
}

// gradeWriter

func (f *fakeGradebook) UpdateValues(_ context.Context, compositionID string, values []repository.GradeValue, check repository.CompositionCheck) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.compositions[compositionID]
	if !ok {
		return sql.ErrNoRows
	}
	if err := check(c); err != nil {
		return err
	}
	targets := make([]*models.Grade, 0, len(values))
	for _, v := range values {
		g := f.gradeFor(compositionID, v.StudentID)
		if g == nil {
			return &repository.MissingGradeError{StudentID: v.StudentID}
		}
		targets = append(targets, g)
	}
	for i, g := range targets {
		g.Value = values[i].Value
	}
	return nil
}

func (f *fakeGradebook) UpdateValue(_ context.Context, compositionID, studentID string, value *int, check repository.CompositionCheck) (*models.Grade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.compositions[compositionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if err := check(c); err != nil {
		return nil, err
	}
	g := f.gradeFor(compositionID, studentID)
	if g == nil {
		return nil, sql.ErrNoRows
	}
	g.Value = value
	cp := *g
	return &cp, nil
}

// gradeStore adapts fakeGradebook to gradeReader, whose ListByClass differs
// from the composition repository's.
type gradeStore struct{ book *fakeGradebook }

func (g gradeStore) FindDetail(_ context.Context, id string) (*models.GradeDetail, error) {
	g.book.mu.Lock()
	defer g.book.mu.Unlock()
	grade, ok := g.book.grades[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	d := g.book.detail(grade)
	return &d, nil
}

func (g gradeStore) ListByClass(_ context.Context, classID string) ([]models.GradeDetail, error) {
	g.book.mu.Lock()
	defer g.book.mu.Unlock()
	var out []models.GradeDetail
	for _, grade := range g.book.grades {
		if grade.ClassID == classID {
			out = append(out, g.book.detail(grade))
		}
	}
	return out, nil
}

func (g gradeStore) ListByStudent(_ context.Context, classID, studentID string) ([]models.GradeDetail, error) {
	g.book.mu.Lock()
	defer g.book.mu.Unlock()
	var out []models.GradeDetail
	for _, grade := range g.book.grades {
		if grade.ClassID == classID && grade.StudentID == studentID {
			out = append(out, g.book.detail(grade))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// recordingNotifier captures fan-out calls.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notificationCall
}

type notificationCall struct {
	UserIDs []string
	Payload models.NotificationPayload
}

func (r *recordingNotifier) Notify(ctx context.Context, userID string, payload models.NotificationPayload) {
	r.NotifyMany(ctx, []string{userID}, payload)
}

func (r *recordingNotifier) NotifyMany(_ context.Context, userIDs []string, payload models.NotificationPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	r.calls = append(r.calls, notificationCall{UserIDs: ids, Payload: payload})
}

func (r *recordingNotifier) last() notificationCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return notificationCall{}
	}
	return r.calls[len(r.calls)-1]
}

// invalidations records grade board cache drops.
type invalidations struct {
	mu      sync.Mutex
	classes []string
}

func (i *invalidations) InvalidateGradeBoard(_ context.Context, classID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.classes = append(i.classes, classID)
}

var (
	actorTeacher  = models.Actor{UserID: "teacher-1", Role: models.RoleUser}
	actorTeacher2 = models.Actor{UserID: "teacher-2", Role: models.RoleUser}
	actorStudent  = models.Actor{UserID: "user-s", Role: models.RoleUser}
	actorOther    = models.Actor{UserID: "user-o", Role: models.RoleUser}
	actorAdmin    = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

func textPtr(v string) *string { return &v }

func gradePtr(v int) *int { return &v }
