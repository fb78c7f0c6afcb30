package onion

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"
)

// Schema is spec section 4.4's SchemaInfo: the aggregate root owning
// every Table, backed by a Backend for durability. All mutation goes
// through Schema's exclusive section (compute under lock, persist to
// the backend, install in memory) so the in-memory tree and the
// bookkeeping store never diverge; reads (Table/Field lookups) only
// take the read half of the lock, consistent with spec section 5's
// single-writer/multi-reader model.
type Schema struct {
	mu      sync.RWMutex
	backend Backend
	kr      *keyRing
	tables  map[string]*Table
	nextID  uint64
}

// NewSchema opens backend, replays every persisted record in ascending
// id order to rebuild the table/field tree, and returns a ready Schema.
// masterKey must be 16 bytes; every column's keys are re-derived from
// it on the fly rather than stored.
func NewSchema(ctx context.Context, backend Backend, masterKey []byte) (*Schema, error) {
	kr, err := newKeyRing(masterKey)
	if err != nil {
		return nil, err
	}
	return newSchemaWithKeyRing(ctx, backend, kr)
}

// newSchemaWithKeyRing is NewSchema with an already-constructed
// keyRing, used by Manager.OpenSchema so the Manager and every Schema
// it opens share one derivation cache instead of each re-deriving keys
// independently.
func newSchemaWithKeyRing(ctx context.Context, backend Backend, kr *keyRing) (*Schema, error) {
	s := &Schema{backend: backend, kr: kr, tables: make(map[string]*Table)}

	records, err := backend.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	idToTable := make(map[uint64]*Table)
	for _, rec := range records {
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
		if rec.Attrs[tombstoneAttr] == "1" {
			// A dropped table or column: its id is never reused (the
			// nextID bump above already accounted for that) but nothing
			// about it is installed in memory.
			continue
		}
		switch rec.Kind {
		case RecordTable:
			t := newTable(rec.ID, rec.Attrs["name"], rec.Attrs["anon"])
			s.tables[t.Name] = t
			idToTable[t.ID] = t
		case RecordField:
			table, ok := idToTable[rec.ParentID]
			if !ok {
				// The owning table was dropped (and tombstoned) after this
				// field was created but replay never saw a tombstone for
				// the field itself — DropTable always tombstones every
				// field it owns before tombstoning the table, so this is
				// genuine corruption, not an ordering artifact.
				return nil, corruptionErr("field record %d references unknown table %d", rec.ID, rec.ParentID)
			}
			f, err := rebuildField(kr, rec, table.Name)
			if err != nil {
				return nil, err
			}
			table.addField(f)
		default:
			return nil, corruptionErr("unknown record kind %q", rec.Kind)
		}
	}
	return s, nil
}

// tombstoneAttr marks a persisted record as dropped. Persist upserts by
// id, so writing a tombstone with a dropped table or field's existing id
// overwrites its last live record in place; replay (above) skips
// installing anything so marked, which is what makes DropTable/DropColumn
// survive a restart instead of reappearing via the replay that rebuilds
// the schema tree from every still-present record.
const tombstoneAttr = "dropped"

func tombstoneRecord(kind RecordKind, id, parentID uint64) Record {
	return Record{Kind: kind, ID: id, ParentID: parentID, Serial: 0, Attrs: map[string]string{tombstoneAttr: "1"}}
}

func (s *Schema) allocID() uint64 {
	s.nextID++
	return s.nextID
}

// Table looks up a table by logical name.
func (s *Schema) Table(name string) (*Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns every table, unordered.
func (s *Schema) Tables() []*Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	return out
}

// CreateTable adds a new, columnless table.
func (s *Schema) CreateTable(ctx context.Context, name string) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tables[name]; exists {
		return nil, schemaErr("table %q already exists", name)
	}
	anon, err := anonName("tbl")
	if err != nil {
		return nil, err
	}
	t := newTable(s.allocID(), name, anon)

	rec := Record{Kind: RecordTable, ID: t.ID, Serial: 1, Attrs: map[string]string{
		"name": name,
		"anon": anon,
	}}
	if err := s.backend.Persist(ctx, rec); err != nil {
		return nil, err
	}
	s.tables[name] = t
	return t, nil
}

// DropTable removes a table and every column it owns. Each owned field
// and the table itself are tombstoned in the backend before either is
// forgotten in memory, so a replay on restart never resurrects them.
func (s *Schema) DropTable(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, exists := s.tables[name]
	if !exists {
		return schemaErr("table %q does not exist", name)
	}

	for _, f := range table.Fields() {
		if err := s.backend.Persist(ctx, tombstoneRecord(RecordField, f.ID, table.ID)); err != nil {
			return err
		}
	}
	if err := s.backend.Persist(ctx, tombstoneRecord(RecordTable, table.ID, 0)); err != nil {
		return err
	}
	delete(s.tables, name)
	return nil
}

// CreateColumn adds a new encrypted column to an existing table, with a
// fresh Stack per onion named in layout.
func (s *Schema) CreateColumn(ctx context.Context, tableName, columnName string, layout Layout) (*Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[tableName]
	if !ok {
		return nil, schemaErr("table %q does not exist", tableName)
	}
	if _, exists := table.fields[columnName]; exists {
		return nil, schemaErr("column %q already exists on table %q", columnName, tableName)
	}

	f, err := buildField(s.kr, s.allocID(), tableName, columnName, layout)
	if err != nil {
		return nil, err
	}

	rec, err := fieldRecord(f, table.ID, 1)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Persist(ctx, rec); err != nil {
		return nil, err
	}
	table.addField(f)
	return f, nil
}

// DropColumn removes a column from its table. The field's record is
// tombstoned in the backend before it is forgotten in memory, so it
// does not reappear on the next replay.
func (s *Schema) DropColumn(ctx context.Context, tableName, columnName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[tableName]
	if !ok {
		return schemaErr("table %q does not exist", tableName)
	}
	f, exists := table.fields[columnName]
	if !exists {
		return schemaErr("column %q does not exist on table %q", columnName, tableName)
	}
	if err := s.backend.Persist(ctx, tombstoneRecord(RecordField, f.ID, table.ID)); err != nil {
		return err
	}
	table.dropField(columnName)
	return nil
}

// Peel pops the outermost layer of a column's onion, persists the
// column's new current level, and returns the peel directive the
// caller must apply against the actual ciphertext store.
func (s *Schema) Peel(ctx context.Context, tableName, columnName string, o Onion, ciphertext []byte, salt uint64) (PeelDirective, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[tableName]
	if !ok {
		return PeelDirective{}, nil, schemaErr("table %q does not exist", tableName)
	}
	f, ok := table.fields[columnName]
	if !ok {
		return PeelDirective{}, nil, schemaErr("column %q does not exist on table %q", columnName, tableName)
	}
	st := f.Stack(o)
	if st == nil {
		return PeelDirective{}, nil, schemaErr("column %q has no %s onion", columnName, o)
	}

	directive, inner, err := st.PeekPeel(ciphertext, salt)
	if err != nil {
		return PeelDirective{}, nil, err
	}

	rec, err := fieldRecord(f, table.ID, 2)
	if err != nil {
		return PeelDirective{}, nil, err
	}
	// st hasn't been mutated yet, so fieldRecord's own read of
	// st.CurrentLevel() still reports the pre-peel level for o; overwrite
	// it with what CommitPeel is about to install so the persisted record
	// matches the state this call is about to commit to, not the state it
	// is leaving.
	rec.Attrs["level_"+o.String()] = directive.ToLevel.String()
	if err := s.backend.Persist(ctx, rec); err != nil {
		return PeelDirective{}, nil, err
	}
	if err := st.CommitPeel(); err != nil {
		return PeelDirective{}, nil, err
	}
	return directive, inner, nil
}

// LeaseSalt hands out the next unused salt for a column's RND-family
// layers (spec section 4.4's leaseIncUniq), as an exclusive-section
// operation: the new counter is made durable before it is installed, so
// a salt is never handed back to a caller unless a restart replay would
// also recover it, preserving strict monotonicity across restarts.
func (s *Schema) LeaseSalt(ctx context.Context, tableName, columnName string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, ok := s.tables[tableName]
	if !ok {
		return 0, schemaErr("table %q does not exist", tableName)
	}
	f, ok := table.fields[columnName]
	if !ok {
		return 0, schemaErr("column %q does not exist on table %q", columnName, tableName)
	}

	next := f.peekNextSalt()
	rec, err := fieldRecord(f, table.ID, 3)
	if err != nil {
		return 0, err
	}
	rec.Attrs["next_salt"] = strconv.FormatUint(next, 10)
	if err := s.backend.Persist(ctx, rec); err != nil {
		return 0, err
	}
	f.commitSalt(next)
	return next, nil
}

// fieldRecord captures everything needed to rebuild f: its layout (as
// the set of onions with a live stack, plus the int/text flag), its
// current per-onion levels, its salt lease counter, and — only for an
// AGG onion, whose key cannot be re-derived from the master secret —
// the Paillier secret parameters.
func fieldRecord(f *Field, tableID uint64, serial uint64) (Record, error) {
	attrs := map[string]string{
		"table":     f.Table,
		"column":    f.Name,
		"anon":      f.Anon,
		"is_int":    boolAttr(f.IsInt),
		"next_salt": strconv.FormatUint(f.nextSalt, 10),
	}
	var onions []string
	for o, st := range f.stacks {
		onions = append(onions, o.String())
		attrs["level_"+o.String()] = st.CurrentLevel().String()
		if o == OnionAGG {
			for _, l := range st.Layers() {
				hl, ok := l.(*homLayer)
				if !ok {
					continue
				}
				attrs["paillier_n"] = hl.paillier.N().Text(10)
				attrs["paillier_lambda"] = hl.paillier.Lambda().Text(10)
				attrs["paillier_mu"] = hl.paillier.Mu().Text(10)
			}
		}
	}
	attrs["onions"] = strings.Join(onions, ",")
	return Record{Kind: RecordField, ID: f.ID, ParentID: tableID, Serial: serial, Attrs: attrs}, nil
}

func boolAttr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// rebuildField reconstructs a Field from its persisted record: it
// re-derives a fresh, complete stack per onion (buildStack is
// deterministic in the keys it derives) then trims each stack down to
// the persisted current level and, for AGG, splices the persisted
// Paillier secret back in.
func rebuildField(kr *keyRing, rec Record, tableName string) (*Field, error) {
	onionNames := strings.Split(rec.Attrs["onions"], ",")
	layout := Layout{IsInt: rec.Attrs["is_int"] == "1"}
	for _, name := range onionNames {
		switch name {
		case "DET":
			layout.DET = true
		case "OPE":
			layout.OPE = true
		case "AGG":
			layout.AGG = true
		case "SEARCH":
			layout.SEARCH = true
		}
	}

	f, err := buildFieldWithID(kr, rec.ID, tableName, rec.Attrs["column"], rec.Attrs["anon"], layout)
	if err != nil {
		return nil, err
	}
	if v, err := strconv.ParseUint(rec.Attrs["next_salt"], 10, 64); err == nil {
		f.nextSalt = v
	}

	for o, st := range f.stacks {
		levelName := rec.Attrs["level_"+o.String()]
		level := parseSecLevel(levelName)
		if level == LevelInvalid {
			continue
		}
		if err := st.restoreDepth(level); err != nil {
			return nil, err
		}
	}

	if layout.AGG {
		n, ok1 := new(big.Int).SetString(rec.Attrs["paillier_n"], 10)
		lambda, ok2 := new(big.Int).SetString(rec.Attrs["paillier_lambda"], 10)
		mu, ok3 := new(big.Int).SetString(rec.Attrs["paillier_mu"], 10)
		if !ok1 || !ok2 || !ok3 {
			return nil, corruptionErr("field %d: malformed persisted Paillier key", rec.ID)
		}
		p := NewPaillierFromSecret(n, lambda, mu)
		hl := &homLayer{level: LevelHOM, label: f.label(), paillier: p}
		if err := f.stacks[OnionAGG].restoreLayer(LevelHOM, hl); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func parseSecLevel(name string) SecLevel {
	for lvl := LevelRNDDET; lvl <= LevelPLAINSEARCH; lvl++ {
		if lvl.String() == name {
			return lvl
		}
	}
	return LevelInvalid
}
