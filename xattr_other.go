//go:build !linux

package integrityfs

// XattrStore is only available on Linux
type XattrStore struct{}

// NewXattrStore always fails outside Linux
func NewXattrStore(root string) (*XattrStore, error) {
	return nil, newAttrError("open", root, "", ErrNotSupported, "extended attributes require linux")
}

func (s *XattrStore) Get(p, name string, maxLen int) ([]byte, error) {
	return nil, newAttrError("get", p, name, ErrNotSupported, "extended attributes require linux")
}

func (s *XattrStore) Set(p, name string, value []byte, mode SetMode) error {
	return newAttrError("set", p, name, ErrNotSupported, "extended attributes require linux")
}

func (s *XattrStore) Remove(p, name string) error {
	return newAttrError("remove", p, name, ErrNotSupported, "extended attributes require linux")
}

func (s *XattrStore) List(p string) ([]string, error) {
	return nil, newAttrError("list", p, "", ErrNotSupported, "extended attributes require linux")
}

var _ AttributeStore = (*XattrStore)(nil)
