package onion

// MasterKeyProvider supplies the 16-byte master secret a Manager
// derives every other key from, generalizing the teacher's KeyProvider
// from a map of rotatable named keys to this package's single-secret
// model (spec section 4.1 has exactly one master key per Manager, not
// a rotating set).
type MasterKeyProvider interface {
	MasterKey() ([]byte, error)
}

// StaticMasterKeyProvider returns a fixed key supplied at construction
// time — the common case, and the only implementation this package
// ships; applications needing a remote KMS implement MasterKeyProvider
// themselves.
type StaticMasterKeyProvider struct {
	key []byte
}

// NewStaticMasterKeyProvider wraps a 16-byte master key.
func NewStaticMasterKeyProvider(key []byte) (*StaticMasterKeyProvider, error) {
	if len(key) != 16 {
		return nil, cryptoErr("master key must be 16 bytes, got %d", len(key))
	}
	cp := make([]byte, 16)
	copy(cp, key)
	return &StaticMasterKeyProvider{key: cp}, nil
}

func (p *StaticMasterKeyProvider) MasterKey() ([]byte, error) {
	return p.key, nil
}
