package export

import (
	"archive/zip"
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"github.com/straja-ai/piiscope/internal/store"
)

var (
	// ErrNoPassword refuses an archive export without a password.
	ErrNoPassword = errors.New("archive export requires a password")
	// ErrBadArchive is returned for data that is not a sealed archive or
	// does not decrypt with the given password.
	ErrBadArchive = errors.New("archive is corrupt or the password is wrong")
)

var (
	archiveMagic = []byte("PSZ2")
	// legacyMagic archives carry no cost byte; they open with the
	// configured ScryptN.
	legacyMagic  = []byte("PSZ1")
)

const (
	saltSize         = 16
	keySize          = chacha20poly1305.KeySize
	DefaultScryptN   = 1 << 15
	maxScryptLogN    = 20
	MaxScryptN       = 1 << maxScryptLogN
	PIIArchiveMember = "pii.csv"
	HIIArchiveMember = "hii.csv"
)

// ArchiveOptions tunes key derivation for new archives. ScryptN must be a
// power of two no larger than MaxScryptN. Archives record their own cost, so
// changing it never locks out older ones.
type ArchiveOptions struct {
	ScryptN int `yaml:"scrypt_n"`
}

func (o ArchiveOptions) n() int {
	if o.ScryptN <= 1 {
		return DefaultScryptN
	}
	return o.ScryptN
}

// WriteArchive zips one CSV per non-empty group of v and seals the zip with
// a password-derived key. Layout: magic | log2(N) | salt | nonce |
// ciphertext; everything before the nonce is authenticated as associated data.
func WriteArchive(w io.Writer, v store.View, password string, opts ArchiveOptions) error {
	if password == "" {
		return ErrNoPassword
	}
	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	members := []struct {
		name string
		ents int
		f    func(io.Writer) error
	}{
		{PIIArchiveMember, len(v.PII), func(w io.Writer) error { return WriteEntitiesCSV(w, v.PII) }},
		{HIIArchiveMember, len(v.HII), func(w io.Writer) error { return WriteEntitiesCSV(w, v.HII) }},
	}
	for _, m := range members {
		if m.ents == 0 {
			continue
		}
		fw, err := zw.Create(m.name)
		if err != nil {
			return fmt.Errorf("zip %s: %w", m.name, err)
		}
		if err := m.f(fw); err != nil {
			return fmt.Errorf("zip %s: %w", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip close: %w", err)
	}

	n := opts.n()
	if n > MaxScryptN || n&(n-1) != 0 {
		return fmt.Errorf("scrypt N %d must be a power of two up to %d", n, MaxScryptN)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("salt: %w", err)
	}
	aead, err := newAEAD(password, salt, n)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	header := append(append([]byte(nil), archiveMagic...), byte(bits.TrailingZeros(uint(n))))
	header = append(header, salt...)
	sealed := aead.Seal(nil, nonce, zbuf.Bytes(), header)

	for _, part := range [][]byte{header, nonce, sealed} {
		if _, err := w.Write(part); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
	}
	return nil
}

// OpenArchive decrypts a sealed archive and returns its members by name.
// The scrypt cost comes from the archive; opts only applies to legacy
// archives written without one.
func OpenArchive(data []byte, password string, opts ArchiveOptions) (map[string][]byte, error) {
	if password == "" {
		return nil, ErrNoPassword
	}
	header, n, err := parseHeader(data, opts)
	if err != nil {
		return nil, err
	}
	headerLen := len(header)
	if len(data) < headerLen+chacha20poly1305.NonceSize {
		return nil, ErrBadArchive
	}
	salt := header[headerLen-saltSize:]
	aead, err := newAEAD(password, salt, n)
	if err != nil {
		return nil, err
	}
	nonce := data[headerLen : headerLen+aead.NonceSize()]
	plain, err := aead.Open(nil, nonce, data[headerLen+aead.NonceSize():], header)
	if err != nil {
		return nil, ErrBadArchive
	}

	zr, err := zip.NewReader(bytes.NewReader(plain), int64(len(plain)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArchive, err)
	}
	out := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out[f.Name] = body
	}
	return out, nil
}

// parseHeader returns the associated-data header and the scrypt N to use.
func parseHeader(data []byte, opts ArchiveOptions) ([]byte, int, error) {
	switch {
	case len(data) >= len(legacyMagic)+saltSize && bytes.Equal(data[:len(legacyMagic)], legacyMagic):
		return data[:len(legacyMagic)+saltSize], opts.n(), nil
	case len(data) >= len(archiveMagic)+1+saltSize && bytes.Equal(data[:len(archiveMagic)], archiveMagic):
		logN := int(data[len(archiveMagic)])
		if logN < 1 || logN > maxScryptLogN {
			return nil, 0, fmt.Errorf("%w: scrypt cost 2^%d out of range", ErrBadArchive, logN)
		}
		return data[:len(archiveMagic)+1+saltSize], 1 << logN, nil
	default:
		return nil, 0, ErrBadArchive
	}
}

func newAEAD(password string, salt []byte, n int) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, n, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	return aead, nil
}
