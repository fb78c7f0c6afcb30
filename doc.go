// Package onion is the cryptographic and schema-metadata core of an
// SQL-aware encrypting middleware. It sits between an application and a
// relational database, encrypting each column value through an ordered
// stack of schemes ("onion layers") so that the database can still
// evaluate a useful subset of SQL — equality, range, aggregation, keyword
// search and cross-column joins — directly on encrypted data.
//
// # Onions and layers
//
// Every encrypted column has one or more onions, each specialized for a
// family of operations (DET for equality, OPE for range, AGG for additive
// aggregation, SEARCH for keyword existence). Each onion is an ordered
// stack of layers running from a strong, low-functionality scheme on the
// outside to a weaker, more functional scheme on the inside. Peeling an
// onion removes its outermost layer, trading confidentiality for the
// ability to run one more class of query server-side.
//
// # Basic usage
//
//	mgr, err := onion.NewManager(onion.WithMasterKey(masterKey))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	schema, err := mgr.OpenSchema(ctx, backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := schema.CreateTable(ctx, "users"); err != nil {
//	    log.Fatal(err)
//	}
//	field, err := schema.CreateColumn(ctx, "users", "email", onion.Layout{
//	    DET:    true,
//	    SEARCH: true,
//	})
//
//	ct, err := mgr.EncryptToLevel(field, onion.OnionDET, onion.LevelRNDDET, []byte("alice@example.com"), salt)
//
// # Key derivation
//
// Every (column, onion, level) triple gets its own subkey, derived
// on-demand from a single master secret via HKDF-SHA256 — no derived key
// is ever persisted, and losing the in-memory derivation cache is never
// fatal. Joins across columns are bound by a process-wide "join" label
// that produces the same DET-JOIN key for every column that needs to
// participate in equality joins.
//
// # Persistence
//
// Schema mutations (create/drop table or column, peel, lease a unique id)
// are written to a backend bookkeeping store before they become visible
// in memory, and are replayed in ascending id order on restart.
package onion
