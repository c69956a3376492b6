package commands

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/absfs/integrityfs"
)

// session is an opened integrity layer plus whatever must be released
// after the command
type session struct {
	fs     *integrityfs.IntegrityFS
	closer io.Closer
}

func (s *session) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// openSession roots the integrity layer at cfg.Root with the configured
// attribute backend
func openSession(cfg *Config, logOut io.Writer) (*session, error) {
	base, err := integrityfs.NewLocalFS(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open root %s: %w", cfg.Root, err)
	}

	var (
		store  integrityfs.AttributeStore
		closer io.Closer
	)
	switch cfg.Backend {
	case "xattr":
		xs, err := integrityfs.NewXattrStore(base.Root())
		if err != nil {
			return nil, err
		}
		store = xs
	case "badger":
		bs, err := integrityfs.OpenBadgerAttrStore(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		store, closer = bs, bs
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	icfg := integrityfs.DefaultConfig()
	icfg.DefaultAlgorithm = cfg.DefaultAlgorithm
	icfg.ChunkSize = cfg.ChunkSize
	icfg.AlgorithmAttr = cfg.AlgorithmAttr
	icfg.Symlinks = cfg.Symlinks
	icfg.Privilege = privilegeFor(cfg.PrivilegedUIDs)
	icfg.Parallel.Enabled = cfg.Parallel.Enabled
	icfg.Parallel.MaxWorkers = cfg.Parallel.Workers
	icfg.Logger = newLogger(cfg.Logging, logOut)

	fs, err := integrityfs.New(base, store, icfg)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	return &session{fs: fs, closer: closer}, nil
}

// privilegeFor grants privilege to root and to the listed uids
func privilegeFor(uids []int) integrityfs.PrivilegeChecker {
	return integrityfs.PrivilegeFunc(func(c integrityfs.Caller) bool {
		return c.UID == 0 || slices.Contains(uids, int(c.UID))
	})
}

// currentCaller identifies the process as the caller of attribute operations
func currentCaller() integrityfs.Caller {
	return integrityfs.Caller{UID: uint32(os.Geteuid()), GID: uint32(os.Getegid())}
}
