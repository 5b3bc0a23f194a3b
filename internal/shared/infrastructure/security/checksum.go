package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrChecksumMismatch is returned when content does not hash to the
// expected value.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Checksum returns the "sha256:HEX" checksum of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// VerifyChecksum checks data against expected, given as "sha256:HEX" or a
// bare hex digest. Comparison is case-insensitive.
func VerifyChecksum(data []byte, expected string) error {
	want, err := parseChecksum(expected)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	return compare(hex.EncodeToString(sum[:]), want)
}

// VerifyFileChecksum streams path through sha256 and checks it.
func VerifyFileChecksum(path, expected string) error {
	want, err := parseChecksum(expected)
	if err != nil {
		return err
	}
	f, err := SafeOpen(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return compare(hex.EncodeToString(h.Sum(nil)), want)
}

func parseChecksum(expected string) (string, error) {
	algorithm, digest, found := strings.Cut(expected, ":")
	if !found {
		return expected, nil
	}
	if !strings.EqualFold(algorithm, "sha256") {
		return "", fmt.Errorf("unsupported checksum algorithm: %s (only sha256 is supported)", algorithm)
	}
	return digest, nil
}

func compare(computed, want string) error {
	if !strings.EqualFold(computed, want) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, want, computed)
	}
	return nil
}
