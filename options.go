package onion

// Option configures a Manager, following the teacher's functional
// options pattern (options.go in the retrieval pack).
type Option func(*managerConfig)

type managerConfig struct {
	provider MasterKeyProvider
}

// WithMasterKey supplies the master secret directly, wrapping it in a
// StaticMasterKeyProvider.
func WithMasterKey(key []byte) Option {
	return func(c *managerConfig) {
		p, err := NewStaticMasterKeyProvider(key)
		if err != nil {
			// Deferred: NewManager surfaces this as a constructor error
			// via a sentinel provider instead of panicking here.
			c.provider = erroringProvider{err: err}
			return
		}
		c.provider = p
	}
}

// WithMasterKeyProvider supplies a custom MasterKeyProvider, e.g. one
// backed by a remote KMS.
func WithMasterKeyProvider(p MasterKeyProvider) Option {
	return func(c *managerConfig) { c.provider = p }
}

type erroringProvider struct{ err error }

func (e erroringProvider) MasterKey() ([]byte, error) { return nil, e.err }
