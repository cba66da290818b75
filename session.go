package fieldtrail

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v5"

	"github.com/mickamy/fieldtrail/internal/codec"
	"github.com/mickamy/fieldtrail/internal/meta"
	"github.com/mickamy/fieldtrail/internal/store"
	"github.com/mickamy/fieldtrail/internal/tracker"
)

// Session is a unit of work: entities are added, attached, updated and
// removed, then written together by SaveChanges. A Session must not be used
// from more than one goroutine at a time.
type Session struct {
	db *DB
	tr *tracker.Tracker
}

// NewSession starts an empty unit of work on db.
func (db *DB) NewSession() *Session {
	return &Session{db: db, tr: tracker.New()}
}

func (s *Session) typeOf(entity any) (*meta.Type, error) {
	typ, ok := s.db.h.registry.Of(entity)
	if !ok {
		return nil, errors.Wrapf(ErrUnregisteredType, "%T", entity)
	}
	return typ, nil
}

// Add schedules entity for insertion.
func (s *Session) Add(entity any) error {
	typ, err := s.typeOf(entity)
	if err != nil {
		return err
	}
	_, err = s.tr.Add(typ, entity)
	return err
}

// Attach tracks entity as an existing, unchanged row. Changes made to it
// afterwards are detected when SaveChanges runs.
func (s *Session) Attach(entity any) error {
	typ, err := s.typeOf(entity)
	if err != nil {
		return err
	}
	_, err = s.tr.Attach(typ, entity)
	return err
}

// Update schedules entity for update. An entity that was not attached has no
// original values, so its changes cannot be audited.
func (s *Session) Update(entity any) error {
	typ, err := s.typeOf(entity)
	if err != nil {
		return err
	}
	s.tr.MarkModified(typ, entity)
	return nil
}

// Remove schedules entity for deletion.
func (s *Session) Remove(entity any) error {
	if _, err := s.typeOf(entity); err != nil {
		return err
	}
	return s.tr.Remove(entity)
}

// Relate schedules a new association named name between left and right.
func (s *Session) Relate(name string, left, right any) error {
	rel, err := s.relation(name, left, right)
	if err != nil {
		return err
	}
	s.tr.Relate(rel, left, right)
	return nil
}

// Unrelate schedules the removal of an association.
func (s *Session) Unrelate(name string, left, right any) error {
	rel, err := s.relation(name, left, right)
	if err != nil {
		return err
	}
	s.tr.Unrelate(rel, left, right)
	return nil
}

func (s *Session) relation(name string, left, right any) (*meta.Relation, error) {
	rel, ok := s.db.h.registry.Relation(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRelation, "%q", name)
	}
	lt, err := s.typeOf(left)
	if err != nil {
		return nil, err
	}
	rt, err := s.typeOf(right)
	if err != nil {
		return nil, err
	}
	if lt != rel.Left || rt != rel.Right {
		return nil, errors.Wrapf(ErrUnknownRelation, "%q does not join %s and %s", name, lt.Name, rt.Name)
	}
	return rel, nil
}

// HasChanges reports whether SaveChanges has anything to write.
func (s *Session) HasChanges() bool {
	s.tr.DetectChanges()
	return s.tr.HasChanges()
}

// SaveChanges writes every pending change and records it in the audit log
// under id. It returns the number of host rows affected; audit rows are
// never counted.
//
// Host rows are committed first. The audit header and new property
// descriptors are then committed together, followed by the items, so an
// audit write error is returned with host data already saved. With
// Config.SingleTransaction all of it commits in one transaction.
func (s *Session) SaveChanges(ctx context.Context, id Identity) (int64, error) {
	h := s.db.h
	logger := h.logger(ctx)
	id = id.withDefaults()

	s.tr.DetectChanges()
	if !s.tr.HasChanges() {
		return 0, nil
	}
	now := h.cfg.Clock().UTC()
	s.stamp(now, id.UserName)

	var cs *changeSet
	if h.auditing(ctx) {
		cs = s.detect(ctx, id, now)
	}

	if h.cfg.SingleTransaction {
		return s.saveAtomic(ctx, cs)
	}

	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.saveHost(ctx, tx)
		return err
	})
	if err != nil {
		s.resetGeneratedKeys()
		return 0, err
	}
	s.tr.AcceptChanges()
	logger.DebugContext(ctx, "fieldtrail: saved host rows", slog.Int64("rows", n))
	if cs == nil {
		return n, nil
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error { return s.saveHeader(ctx, tx, cs) }); err != nil {
		return n, errors.Mark(errors.Wrap(err, "fieldtrail: save audit header"), ErrAuditWrite)
	}
	cs.catalog.publish()
	if err := s.inTx(ctx, func(tx *sql.Tx) error { return s.saveItems(ctx, tx, cs) }); err != nil {
		return n, errors.Mark(errors.Wrap(err, "fieldtrail: save audit items"), ErrAuditWrite)
	}
	logger.DebugContext(ctx, "fieldtrail: saved audit",
		slog.Int64("audit_id", cs.audit.ID),
		slog.Int("items", len(cs.items)))
	return n, nil
}

func (s *Session) saveAtomic(ctx context.Context, cs *changeSet) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if n, err = s.saveHost(ctx, tx); err != nil {
			return err
		}
		if cs == nil {
			return nil
		}
		if err := s.saveHeader(ctx, tx, cs); err != nil {
			return errors.Mark(errors.Wrap(err, "fieldtrail: save audit header"), ErrAuditWrite)
		}
		if err := s.saveItems(ctx, tx, cs); err != nil {
			return errors.Mark(errors.Wrap(err, "fieldtrail: save audit items"), ErrAuditWrite)
		}
		return nil
	})
	if err != nil {
		s.resetGeneratedKeys()
		return 0, err
	}
	s.tr.AcceptChanges()
	if cs != nil {
		cs.catalog.publish()
	}
	return n, nil
}

// stamp runs the bookkeeping hooks of new and modified entities.
func (s *Session) stamp(now time.Time, by string) {
	for _, e := range s.tr.Entries(tracker.Added) {
		if e.Type.StampCreated != nil {
			e.Type.StampCreated(e.Entity, now, by)
		}
		if e.Type.StampChanged != nil {
			e.Type.StampChanged(e.Entity, now, by)
		}
	}
	for _, e := range s.tr.Entries(tracker.Modified) {
		if e.Type.StampChanged != nil {
			e.Type.StampChanged(e.Entity, now, by)
		}
	}
}

// saveHost writes pending rows and links and returns the rows affected.
// Links are removed before and added after entity rows are written so link
// tables may reference them.
func (s *Session) saveHost(ctx context.Context, tx *sql.Tx) (int64, error) {
	rows := s.db.h.rows
	var n int64

	for _, r := range s.tr.Relations(tracker.Deleted) {
		left, right, err := s.linkKeys(r)
		if err != nil {
			return 0, err
		}
		c, err := rows.Unlink(ctx, tx, r.Relation.Table, r.Relation.LeftColumn, r.Relation.RightColumn, left, right)
		if err != nil {
			return 0, err
		}
		n += c
	}
	for _, e := range s.tr.Entries(tracker.Added) {
		if err := s.insert(ctx, tx, e); err != nil {
			return 0, err
		}
		n++
	}
	for _, e := range s.tr.Entries(tracker.Modified) {
		if _, ok := e.Key(); !ok {
			return 0, errors.Wrapf(ErrNoKey, "update %s", e.Type.Name)
		}
		row := rowOf(e)
		if len(row.Columns) == 0 {
			continue
		}
		c, err := rows.Update(ctx, tx, row)
		if err != nil {
			return 0, err
		}
		n += c
	}
	for _, r := range s.tr.Relations(tracker.Added) {
		left, right, err := s.linkKeys(r)
		if err != nil {
			return 0, err
		}
		c, err := rows.Link(ctx, tx, r.Relation.Table, r.Relation.LeftColumn, r.Relation.RightColumn, left, right)
		if err != nil {
			return 0, err
		}
		n += c
	}
	for _, e := range s.tr.Entries(tracker.Deleted) {
		if _, ok := e.Key(); !ok {
			return 0, errors.Wrapf(ErrNoKey, "delete %s", e.Type.Name)
		}
		c, err := rows.Delete(ctx, tx, e.Type.Table, e.Type.Key.Column, e.Type.Key.Value(e.Entity))
		if err != nil {
			return 0, err
		}
		n += c
	}
	return n, nil
}

func (s *Session) insert(ctx context.Context, tx *sql.Tx, e *tracker.Entry) error {
	if e.Type.Key == nil {
		return errors.Wrapf(ErrNoKey, "insert %s", e.Type.Name)
	}
	row := rowOf(e)
	if e.Type.Key.Generated {
		id, err := s.db.h.rows.Insert(ctx, tx, row, true)
		if err != nil {
			return err
		}
		e.Type.Key.Assign(e.Entity, id)
		return nil
	}
	if _, ok := e.Key(); !ok {
		return errors.Wrapf(ErrNoKey, "insert %s", e.Type.Name)
	}
	_, err := s.db.h.rows.Insert(ctx, tx, row, false)
	return err
}

// rowOf renders the persisted columns of e.
func rowOf(e *tracker.Entry) store.Row {
	row := store.Row{
		Table:     e.Type.Table,
		KeyColumn: e.Type.Key.Column,
		Key:       e.Type.Key.Value(e.Entity),
	}
	for _, p := range e.Type.Props {
		if p.Persisted() {
			row.Columns = append(row.Columns, p.Column)
			row.Values = append(row.Values, p.Value(e.Entity))
		}
	}
	return row
}

func (s *Session) linkKeys(r *tracker.RelationEntry) (any, any, error) {
	var keys [2]any
	for i, entity := range r.Ends {
		typ, err := s.typeOf(entity)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := typ.KeyOf(entity); !ok {
			return nil, nil, errors.Wrapf(ErrNoKey, "relation %s end %s", r.Relation.Name, typ.Name)
		}
		keys[i] = typ.Key.Value(entity)
	}
	return keys[0], keys[1], nil
}

// resetGeneratedKeys clears keys assigned by inserts that were rolled back.
func (s *Session) resetGeneratedKeys() {
	for _, e := range s.tr.Entries(tracker.Added) {
		if e.Type.Key != nil && e.Type.Key.Generated {
			e.Type.Key.Assign(e.Entity, 0)
		}
	}
}

func (s *Session) saveHeader(ctx context.Context, tx *sql.Tx, cs *changeSet) error {
	id, err := s.db.h.audits.InsertAudit(ctx, tx, store.DbAudit{
		HostId:    cs.audit.HostID,
		HostName:  cs.audit.HostName,
		UserId:    cs.audit.UserID,
		UserName:  cs.audit.UserName,
		AuditDate: cs.audit.AuditDate,
	})
	if err != nil {
		return err
	}
	cs.audit.ID = id
	return cs.catalog.save(ctx, tx)
}

func (s *Session) saveItems(ctx context.Context, tx *sql.Tx, cs *changeSet) error {
	if err := cs.backfill(); err != nil {
		return err
	}
	items := make([]store.DbAuditItem, len(cs.items))
	for i, it := range cs.items {
		items[i] = it.toDb()
	}
	return s.db.h.audits.InsertItems(ctx, tx, items)
}

func (s *Session) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "fieldtrail: begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "fieldtrail: commit")
}

// Find loads the row of T whose key is key and attaches it to the session.
// It returns ErrNotFound when no row matches.
func Find[T any](ctx context.Context, s *Session, key any) (*T, error) {
	typ, err := s.typeOf(new(T))
	if err != nil {
		return nil, err
	}
	if typ.Key == nil {
		return nil, errors.Wrapf(ErrNoKey, "find %s", typ.Name)
	}
	k, ok := codec.FormatDriverValue(key)
	if !ok {
		return nil, errors.Wrapf(ErrNoKey, "find %s", typ.Name)
	}
	entity := typ.New()
	if err := typ.Key.Set(entity, k); err != nil {
		return nil, err
	}

	var cols []string
	for _, p := range typ.Props {
		if p.Persisted() {
			cols = append(cols, p.Column)
		}
	}
	if len(cols) == 0 {
		cols = []string{typ.Key.Column}
	}
	m, err := s.db.h.rows.Load(ctx, s.db.DB, typ.Table, typ.Key.Column, typ.Key.Value(entity), cols)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s %s", typ.Name, k)
	}
	if err != nil {
		return nil, err
	}
	for _, p := range typ.Props {
		if !p.Persisted() {
			continue
		}
		v, ok := codec.FormatDriverValue(m[p.Column])
		if err := p.Set(entity, null.NewString(v, ok)); err != nil {
			return nil, errors.Wrapf(err, "fieldtrail: load %s.%s", typ.Name, p.Name)
		}
	}
	if _, err := s.tr.Attach(typ, entity); err != nil {
		return nil, err
	}
	return entity.(*T), nil
}
