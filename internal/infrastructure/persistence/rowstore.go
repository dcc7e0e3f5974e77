package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
	"github.com/erp/logicengine/internal/engine"
)

// GormStore adapts a GORM database to the engine's row-store contract.
// Table names are the pluralized entity names; uuids and decimals are
// encoded to portable column types on the way in and decoded back to the
// engine's canonical value types on the way out.
type GormStore struct {
	db     *gorm.DB
	graph  *schema.Graph
	tables map[string]string
}

// NewGormStore creates a row store over an open GORM connection.
func NewGormStore(db *gorm.DB, g *schema.Graph) *GormStore {
	tables := make(map[string]string, len(g.Entities()))
	for _, e := range g.Entities() {
		tables[e.Name] = e.Name + "s"
	}
	return &GormStore{db: db, graph: g, tables: tables}
}

// Begin opens a database transaction. Isolation comes from the database;
// the engine requires at least a consistent snapshot of the rows it reads.
func (s *GormStore) Begin(ctx context.Context) (engine.StoreTx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &gormTx{store: s, tx: tx}, nil
}

type gormTx struct {
	store *GormStore
	tx    *gorm.DB
}

func (t *gormTx) ReadRow(ctx context.Context, entity string, id uuid.UUID) (engine.Row, error) {
	raw := map[string]any{}
	err := t.tx.WithContext(ctx).Table(t.store.tables[entity]).Where("id = ?", id.String()).Take(&raw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", entity, id, err)
	}
	return t.store.decodeRow(entity, raw)
}

func (t *gormTx) ReadChildren(ctx context.Context, entity string, id uuid.UUID, relationship string) ([]uuid.UUID, error) {
	rel, ok := t.store.graph.ChildRelationship(entity, relationship)
	if !ok {
		return nil, shared.NewDomainError("UNKNOWN_RELATIONSHIP", fmt.Sprintf("unknown child relationship %q", relationship))
	}
	var raw []string
	err := t.tx.WithContext(ctx).
		Table(t.store.tables[rel.Child]).
		Where(rel.ForeignKey+" = ?", id.String()).
		Order("id").
		Pluck("id", &raw).Error
	if err != nil {
		return nil, fmt.Errorf("read children %s of %s %s: %w", relationship, entity, id, err)
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		cid, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("corrupt child id %q: %w", s, err)
		}
		ids = append(ids, cid)
	}
	return ids, nil
}

func (t *gormTx) InsertRow(ctx context.Context, entity string, id uuid.UUID, values engine.Row) error {
	record := t.store.encodeRow(entity, values)
	record["id"] = id.String()
	if err := t.tx.WithContext(ctx).Table(t.store.tables[entity]).Create(record).Error; err != nil {
		return fmt.Errorf("insert %s %s: %w", entity, id, err)
	}
	return nil
}

func (t *gormTx) UpdateRow(ctx context.Context, entity string, id uuid.UUID, changes engine.Row) error {
	record := t.store.encodeRow(entity, changes)
	res := t.tx.WithContext(ctx).Table(t.store.tables[entity]).Where("id = ?", id.String()).Updates(record)
	if res.Error != nil {
		return fmt.Errorf("update %s %s: %w", entity, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *gormTx) DeleteRow(ctx context.Context, entity string, id uuid.UUID) error {
	res := t.tx.WithContext(ctx).Table(t.store.tables[entity]).Where("id = ?", id.String()).Delete(nil)
	if res.Error != nil {
		return fmt.Errorf("delete %s %s: %w", entity, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *gormTx) Commit() error {
	return t.tx.Commit().Error
}

func (t *gormTx) Rollback() error {
	return t.tx.Rollback().Error
}

// encodeRow converts canonical engine values to driver-portable ones.
func (s *GormStore) encodeRow(entity string, values engine.Row) map[string]any {
	record := make(map[string]any, len(values))
	for name, v := range values {
		if id, ok := v.(uuid.UUID); ok {
			record[name] = id.String()
			continue
		}
		record[name] = v
	}
	return record
}

// decodeRow converts scanned column values back to the engine's canonical
// types, guided by the attribute types of the entity graph.
func (s *GormStore) decodeRow(entity string, raw map[string]any) (engine.Row, error) {
	ent, ok := s.graph.Entity(entity)
	if !ok {
		return nil, shared.NewDomainError("UNKNOWN_ENTITY", fmt.Sprintf("unknown entity %q", entity))
	}
	row := make(engine.Row, len(ent.Attributes()))
	for _, attr := range ent.Attributes() {
		v, err := decodeValue(attr, raw[attr.Name])
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", entity, attr.Name, err)
		}
		row[attr.Name] = v
	}
	return row, nil
}

func decodeValue(attr schema.Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch attr.Type {
	case schema.TypeDecimal:
		switch d := v.(type) {
		case decimal.Decimal:
			return d, nil
		case string:
			return decimal.NewFromString(d)
		case []byte:
			return decimal.NewFromString(string(d))
		case float64:
			return decimal.NewFromFloat(d), nil
		case int64:
			return decimal.NewFromInt(d), nil
		}
	case schema.TypeInteger:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			return int64(n), nil
		}
	case schema.TypeString:
		switch str := v.(type) {
		case string:
			return str, nil
		case []byte:
			return string(str), nil
		}
	case schema.TypeTime:
		switch ts := v.(type) {
		case time.Time:
			return ts, nil
		case string:
			return parseTime(ts)
		case []byte:
			return parseTime(string(ts))
		}
	case schema.TypeRef:
		switch id := v.(type) {
		case string:
			return uuid.Parse(id)
		case []byte:
			return uuid.Parse(string(id))
		}
	}
	return nil, fmt.Errorf("unsupported column value type %T", v)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format %q", s)
}
