package onion

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// zeroIV is the fixed all-zero IV CMC mode starts from. DET is
// deterministic precisely because every encryption under a given key
// uses this same IV.
var zeroIV = make([]byte, rndBlockSize)

func cbcNoPad(block cipher.Block, pt []byte, encrypt bool) []byte {
	out := make([]byte, len(pt))
	if encrypt {
		cipher.NewCBCEncrypter(block, zeroIV).CryptBlocks(out, pt)
	} else {
		cipher.NewCBCDecrypter(block, zeroIV).CryptBlocks(out, pt)
	}
	return out
}

func reverseBlocks(data []byte) []byte {
	n := len(data) / rndBlockSize
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		src := data[(n-i-1)*rndBlockSize : (n-i)*rndBlockSize]
		dst := out[i*rndBlockSize : (i+1)*rndBlockSize]
		copy(dst, src)
	}
	return out
}

// DET implements the deterministic symmetric onion layer for
// variable-length (text) values: CBC-mask-CBC (CMC) — CBC-encrypt once
// with a zero IV, reverse the block order, CBC-encrypt again with a zero
// IV. Contract (spec 4.1): enc(k, pt) == enc(k, pt) for all pt; two
// columns are joinable at DET-JOIN iff they share that level's key.
type DET struct {
	block cipher.Block
}

// NewDET constructs a DET primitive from a 16-byte key.
func NewDET(key []byte) (*DET, error) {
	if len(key) != 16 {
		return nil, cryptoErr("DET: key must be 16 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryptoErr("DET: %v", err)
	}
	return &DET{block: block}, nil
}

// Encrypt deterministically encrypts pt, which is PKCS#7-padded to a
// block boundary before CMC is applied (unlike RND, no IV is needed, but
// the same padding scheme keeps plaintexts of any length round-trippable
// without ambiguity, and — per the spec's Open Question resolution —
// never strips or otherwise mangles quote/apostrophe bytes).
func (d *DET) Encrypt(pt []byte) []byte {
	padded := rndPad(pt)
	first := cbcNoPad(d.block, padded, true)
	rev := reverseBlocks(first)
	return cbcNoPad(d.block, rev, true)
}

// Decrypt reverses Encrypt.
func (d *DET) Decrypt(ct []byte) ([]byte, error) {
	if len(ct) == 0 || len(ct)%rndBlockSize != 0 {
		return nil, cryptoErr("DET: ciphertext length %d is not a positive multiple of %d", len(ct), rndBlockSize)
	}
	firstDec := cbcNoPad(d.block, ct, false)
	rev := reverseBlocks(firstDec)
	padded := cbcNoPad(d.block, rev, false)
	return rndUnpad(padded)
}

// DETInt implements the simpler single-block deterministic encryption
// spec section 4.1 specifies for integer columns: one AES-ECB block
// over the zero-padded 32-bit integer.
type DETInt struct {
	block cipher.Block
}

// NewDETInt constructs a DETInt primitive from a 16-byte key.
func NewDETInt(key []byte) (*DETInt, error) {
	if len(key) != 16 {
		return nil, cryptoErr("DETInt: key must be 16 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryptoErr("DETInt: %v", err)
	}
	return &DETInt{block: block}, nil
}

// Encrypt deterministically encrypts a 32-bit integer, zero-extended
// into a single AES block.
func (d *DETInt) Encrypt(v uint32) []byte {
	var buf [rndBlockSize]byte
	binary.BigEndian.PutUint32(buf[rndBlockSize-4:], v)
	out := make([]byte, rndBlockSize)
	d.block.Encrypt(out, buf[:])
	return out
}

// Decrypt recovers the 32-bit integer.
func (d *DETInt) Decrypt(ct []byte) (uint32, error) {
	if len(ct) != rndBlockSize {
		return 0, cryptoErr("DETInt: ciphertext must be %d bytes, got %d", rndBlockSize, len(ct))
	}
	var buf [rndBlockSize]byte
	d.block.Decrypt(buf[:], ct)
	return binary.BigEndian.Uint32(buf[rndBlockSize-4:]), nil
}

// EncryptBlock AES-encrypts a full 16-byte block as-is, with no
// zero-extension. Stacking a second DETInt layer (the DET_JOIN-under-
// DET composition of an integer column's DET onion) needs this form:
// the inner layer's 16-byte ciphertext is itself the "plaintext" the
// outer layer encrypts, and Encrypt's zero-extend convention only makes
// sense for the original 4-byte value.
func (d *DETInt) EncryptBlock(block []byte) ([]byte, error) {
	if len(block) != rndBlockSize {
		return nil, cryptoErr("DETInt: block must be %d bytes, got %d", rndBlockSize, len(block))
	}
	out := make([]byte, rndBlockSize)
	d.block.Encrypt(out, block)
	return out, nil
}

// DecryptBlock reverses EncryptBlock.
func (d *DETInt) DecryptBlock(ct []byte) ([]byte, error) {
	if len(ct) != rndBlockSize {
		return nil, cryptoErr("DETInt: ciphertext must be %d bytes, got %d", rndBlockSize, len(ct))
	}
	out := make([]byte, rndBlockSize)
	d.block.Decrypt(out, ct)
	return out, nil
}
