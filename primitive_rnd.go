package onion

import (
	"crypto/aes"
	"crypto/cipher"
)

// rndBlockSize is the AES block size used throughout the onion
// primitives: 128 bits.
const rndBlockSize = aes.BlockSize

// rndPad applies PKCS#7-style padding: every input is padded to a
// multiple of rndBlockSize, and a full block of padding is appended when
// the input is already aligned, so unpad is always unambiguous.
func rndPad(pt []byte) []byte {
	padLen := rndBlockSize - (len(pt) % rndBlockSize)
	out := make([]byte, len(pt)+padLen)
	copy(out, pt)
	for i := len(pt); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func rndUnpad(padded []byte) ([]byte, error) {
	if len(padded) == 0 || len(padded)%rndBlockSize != 0 {
		return nil, cryptoErr("RND: padded length %d is not a positive multiple of %d", len(padded), rndBlockSize)
	}
	padLen := int(padded[len(padded)-1])
	if padLen == 0 || padLen > rndBlockSize || padLen > len(padded) {
		return nil, cryptoErr("RND: invalid padding byte %d", padLen)
	}
	return padded[:len(padded)-padLen], nil
}

// rndIV derives a 16-byte IV from a 64-bit per-row salt by AES-encrypting
// the salt's 16-byte big-endian encoding under the same key. Two
// encryptions of the same plaintext with different salts are therefore
// indistinguishable, as spec section 4.1 requires, without reusing the IV
// across rows.
func rndIV(block cipher.Block, salt uint64) []byte {
	var buf [rndBlockSize]byte
	for i := 0; i < 8; i++ {
		buf[rndBlockSize-1-i] = byte(salt >> (8 * i))
	}
	iv := make([]byte, rndBlockSize)
	block.Encrypt(iv, buf[:])
	return iv
}

// RND implements the randomized symmetric onion layer: AES-128-CBC with
// PKCS#7-style padding and a salt-derived IV. Contract (spec 4.1): enc
// output length is ceil((|pt|+1)/16)*16; two encryptions of the same
// plaintext with different salts are indistinguishable; dec fails only if
// the ciphertext length is not a positive multiple of 16.
type RND struct {
	block cipher.Block
}

// NewRND constructs an RND primitive from a 16-byte key.
func NewRND(key []byte) (*RND, error) {
	if len(key) != 16 {
		return nil, cryptoErr("RND: key must be 16 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryptoErr("RND: %v", err)
	}
	return &RND{block: block}, nil
}

// Encrypt returns the RND ciphertext of pt under the given per-row salt.
func (r *RND) Encrypt(pt []byte, salt uint64) []byte {
	padded := rndPad(pt)
	iv := rndIV(r.block, salt)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(r.block, iv).CryptBlocks(ct, padded)
	return ct
}

// Decrypt recovers the plaintext RND-encrypted under salt.
func (r *RND) Decrypt(ct []byte, salt uint64) ([]byte, error) {
	if len(ct) == 0 || len(ct)%rndBlockSize != 0 {
		return nil, cryptoErr("RND: ciphertext length %d is not a positive multiple of %d", len(ct), rndBlockSize)
	}
	iv := rndIV(r.block, salt)
	padded := make([]byte, len(ct))
	cipher.NewCBCDecrypter(r.block, iv).CryptBlocks(padded, ct)
	return rndUnpad(padded)
}
