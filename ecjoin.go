package onion

// JoinDelta computes the delta key that adjusts from's EC-join
// ciphertexts into to's, per spec section 4.1's EC-join contract. The
// delta is derived from the two fields' keys alone and leaks nothing
// beyond the fact that the two columns have been linked.
func (m *Manager) JoinDelta(from, to *Field) ([]byte, error) {
	if m.closed.Load() {
		return nil, schemaErr("onion: manager is closed")
	}
	if from.ecjoin == nil || to.ecjoin == nil {
		return nil, schemaErr("EC-join delta requires both fields to have an EC-join key")
	}
	return DeltaKey(from.ecjoin, to.ecjoin), nil
}

// ECJoinEncrypt computes enc_i(x) = k_i . H(x) under field's own
// EC-join key, for a column that will be joined to another via a
// delta key rather than a shared DET-JOIN key.
func (m *Manager) ECJoinEncrypt(field *Field, plaintext []byte) ([]byte, error) {
	if m.closed.Load() {
		return nil, schemaErr("onion: manager is closed")
	}
	if field.ecjoin == nil {
		return nil, schemaErr("field %s.%s has no EC-join key", field.Table, field.Name)
	}
	return field.ecjoin.Encrypt(plaintext), nil
}

// AdjustJoin applies delta (from JoinDelta) to ciphertext, producing
// the ciphertext that would have resulted from encrypting the same
// plaintext under the target field's EC-join key. This is the
// operation the DBMS (or a UDF) performs in-place to evaluate a
// cross-column join without either side learning the other's key.
func AdjustJoin(delta, ciphertext []byte) ([]byte, error) {
	return Adjust(delta, ciphertext)
}
