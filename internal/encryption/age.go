package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"filippo.io/age"
	"filippo.io/age/armor"
	"golang.org/x/term"

	"pgdr-go/internal/config"
	"pgdr-go/internal/dr"
)

// AgeEncryptor implements dr.Encryptor using filippo.io/age with X25519
// recipients. Encryption needs only the public recipient, so scheduled
// backup runs never touch private key material.
type AgeEncryptor struct {
	recipients []age.Recipient
}

var _ dr.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor parses the configured recipient, either inline or from
// a recipients file.
func NewAgeEncryptor(cfg *config.EncryptionConfig) (*AgeEncryptor, error) {
	var data []byte
	switch {
	case cfg.Recipient != "":
		data = []byte(cfg.Recipient + "\n")
	case cfg.RecipientFile != "":
		var err error
		data, err = os.ReadFile(cfg.RecipientFile)
		if err != nil {
			return nil, fmt.Errorf("reading recipient file: %w", err)
		}
	default:
		return nil, fmt.Errorf("age encryption requires a recipient or recipient file")
	}

	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients found")
	}
	return &AgeEncryptor{recipients: recipients}, nil
}

// Encrypt reads plaintext from r and writes age-encrypted ciphertext to w.
func (e *AgeEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	encWriter, err := age.Encrypt(w, e.recipients...)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}

	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}

	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// AgeDecryptor implements dr.Decryptor with identities loaded from an
// identity file. The file may itself be age-encrypted with a passphrase;
// unlocking happens once, at construction.
type AgeDecryptor struct {
	identities []age.Identity
}

var _ dr.Decryptor = (*AgeDecryptor)(nil)

// readPassword is a test seam for term.ReadPassword.
var readPassword = func() ([]byte, error) {
	fmt.Fprint(os.Stderr, "identity file passphrase: ")
	defer fmt.Fprintln(os.Stderr)
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// NewAgeDecryptor loads identities from identityFile, unlocking it first
// when it is passphrase-protected.
func NewAgeDecryptor(identityFile string) (*AgeDecryptor, error) {
	data, err := os.ReadFile(identityFile)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}

	if locked(data) {
		data, err = unlockIdentity(data)
		if err != nil {
			return nil, fmt.Errorf("unlocking identity file: %w", err)
		}
	}

	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in identity file")
	}
	return &AgeDecryptor{identities: identities}, nil
}

// Decrypt reads age-encrypted ciphertext from r and writes plaintext to w.
func (d *AgeDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	decReader, err := age.Decrypt(r, d.identities...)
	if err != nil {
		return fmt.Errorf("creating decrypted reader: %w", err)
	}

	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}

// lazyAgeDecryptor defers identity loading to first use, so a
// passphrase prompt can never stall an operation that does not decrypt.
type lazyAgeDecryptor struct {
	file string
	once sync.Once
	dec  *AgeDecryptor
	err  error
}

var _ dr.Decryptor = (*lazyAgeDecryptor)(nil)

func (l *lazyAgeDecryptor) Decrypt(r io.Reader, w io.Writer) error {
	l.once.Do(func() { l.dec, l.err = NewAgeDecryptor(l.file) })
	if l.err != nil {
		return l.err
	}
	return l.dec.Decrypt(r, w)
}

// locked reports whether the identity file is itself an age ciphertext,
// in binary or armored form.
func locked(data []byte) bool {
	return bytes.HasPrefix(data, []byte("age-encryption.org/v1")) ||
		bytes.HasPrefix(data, []byte(armor.Header))
}

// unlockIdentity decrypts a passphrase-protected identity file. The
// passphrase comes from PGDR_IDENTITY_PASSPHRASE when set, otherwise
// from the terminal; scheduled runs have no terminal, so they must use
// the environment or an unprotected identity file.
func unlockIdentity(data []byte) ([]byte, error) {
	passphrase := os.Getenv("PGDR_IDENTITY_PASSPHRASE")
	if passphrase == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, fmt.Errorf("identity file is passphrase-protected and no terminal is available; set PGDR_IDENTITY_PASSPHRASE")
		}
		pass, err := readPassword()
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		passphrase = string(pass)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	var src io.Reader = bytes.NewReader(data)
	if bytes.HasPrefix(data, []byte(armor.Header)) {
		src = armor.NewReader(src)
	}

	decReader, err := age.Decrypt(src, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting identity file: %w", err)
	}

	keyData, err := io.ReadAll(decReader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted identity file: %w", err)
	}
	return keyData, nil
}
