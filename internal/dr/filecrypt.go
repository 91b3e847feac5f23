package dr

import (
	"fmt"
	"os"
)

// encryptFile encrypts srcPath into dstPath. The destination is removed
// again if encryption fails partway.
func encryptFile(enc Encryptor, srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dstPath, err)
	}
	if err := enc.Encrypt(in, out); err != nil {
		out.Close()
		os.Remove(dstPath)
		return fmt.Errorf("encrypting %s: %w", srcPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("closing %s: %w", dstPath, err)
	}
	return nil
}

// decryptFile decrypts srcPath into dstPath.
func decryptFile(dec Decryptor, srcPath, dstPath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", srcPath, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dstPath, err)
	}
	if err := dec.Decrypt(in, out); err != nil {
		out.Close()
		os.Remove(dstPath)
		return fmt.Errorf("decrypting %s: %w", srcPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("closing %s: %w", dstPath, err)
	}
	return nil
}
