package dr

import "io"

// Encryptor encrypts artifact bytes to the configured recipient key.
// Encryption needs the public recipient only; no key unlock is required.
type Encryptor interface {
	Encrypt(r io.Reader, w io.Writer) error
}

// Decryptor decrypts artifact bytes with an unlocked identity. Trial
// restores and PITR staging need one when artifacts are encrypted.
type Decryptor interface {
	Decrypt(r io.Reader, w io.Writer) error
}
