package integrityfs

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// algorithm describes one hash function the Digest Engine can run
type algorithm struct {
	name string
	size int
	new  func() hash.Hash
}

// mustKeyless wraps the BLAKE2 constructors, which only fail for bad keys
func mustKeyless(f func(key []byte) (hash.Hash, error)) func() hash.Hash {
	return func() hash.Hash {
		h, err := f(nil)
		if err != nil {
			panic(err)
		}
		return h
	}
}

// Names follow the Linux crypto API where one exists, so attributes written
// by other tools stay readable.
var algorithms = map[string]algorithm{
	"md5":         {"md5", md5.Size, md5.New},
	"sha1":        {"sha1", sha1.Size, sha1.New},
	"sha224":      {"sha224", sha256.Size224, sha256.New224},
	"sha256":      {"sha256", sha256.Size, sha256.New},
	"sha384":      {"sha384", sha512.Size384, sha512.New384},
	"sha512":      {"sha512", sha512.Size, sha512.New},
	"sha3-224":    {"sha3-224", 28, sha3.New224},
	"sha3-256":    {"sha3-256", 32, sha3.New256},
	"sha3-384":    {"sha3-384", 48, sha3.New384},
	"sha3-512":    {"sha3-512", 64, sha3.New512},
	"blake2b-256": {"blake2b-256", blake2b.Size256, mustKeyless(blake2b.New256)},
	"blake2b-384": {"blake2b-384", blake2b.Size384, mustKeyless(blake2b.New384)},
	"blake2b-512": {"blake2b-512", blake2b.Size, mustKeyless(blake2b.New512)},
	"blake2s-256": {"blake2s-256", blake2s.Size, mustKeyless(blake2s.New256)},
	"blake3":      {"blake3", 32, func() hash.Hash { return blake3.New() }},
}

// lookupAlgorithm resolves a case-insensitive algorithm name
func lookupAlgorithm(name string) (algorithm, bool) {
	alg, ok := algorithms[strings.ToLower(name)]
	return alg, ok
}

// SupportedAlgorithms returns the names of all registered algorithms, sorted
func SupportedAlgorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DigestSize returns the digest length of the named algorithm
func DigestSize(name string) (int, bool) {
	alg, ok := lookupAlgorithm(name)
	if !ok {
		return 0, false
	}
	return alg.size, true
}
