package onion

// Table is spec section 4.4's TableMeta: a logical table name, its
// anonymized counterpart, and the Fields that belong to it, insertion
// ordered for deterministic iteration (Fields returns them in that
// order, and DropTable tombstones them in it).
type Table struct {
	ID     uint64
	Name   string
	Anon   string
	order  []string // logical column names, insertion order
	fields map[string]*Field
}

func newTable(id uint64, name, anon string) *Table {
	return &Table{ID: id, Name: name, Anon: anon, fields: make(map[string]*Field)}
}

// Field looks up a column by its logical name.
func (t *Table) Field(name string) (*Field, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Fields returns this table's fields in insertion order.
func (t *Table) Fields() []*Field {
	out := make([]*Field, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.fields[name])
	}
	return out
}

func (t *Table) addField(f *Field) {
	if _, exists := t.fields[f.Name]; !exists {
		t.order = append(t.order, f.Name)
	}
	t.fields[f.Name] = f
}

func (t *Table) dropField(name string) {
	if _, ok := t.fields[name]; !ok {
		return
	}
	delete(t.fields, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}
