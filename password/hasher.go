package password

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Scheme is a Hasher that can recognise its own encoded hashes.
type Scheme interface {
	Hasher
	Handles(encodedHash string) bool
}

// Multi hashes with a primary scheme and verifies against any registered scheme.
// A hash produced by a non-primary scheme always needs an upgrade.
type Multi struct {
	primary Scheme
	legacy  []Scheme
}

// NewMulti returns a Multi that hashes with primary and additionally verifies legacy formats.
func NewMulti(primary Scheme, legacy ...Scheme) *Multi {
	return &Multi{primary: primary, legacy: legacy}
}

// Hash hashes with the primary scheme.
func (m *Multi) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

// Verify dispatches on the hash format.
func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	s, err := m.scheme(encodedHash)
	if err != nil {
		return false, err
	}
	return s.Verify(password, encodedHash)
}

// NeedsUpgrade is true for legacy formats and for weaker primary parameters.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	if m.primary.Handles(encodedHash) {
		return m.primary.NeedsUpgrade(encodedHash)
	}
	if _, err := m.scheme(encodedHash); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Multi) scheme(encodedHash string) (Scheme, error) {
	if m.primary.Handles(encodedHash) {
		return m.primary, nil
	}
	for _, s := range m.legacy {
		if s.Handles(encodedHash) {
			return s, nil
		}
	}
	return nil, ErrUnsupportedHash
}
