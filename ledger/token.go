package ledger

// WriteToken is the capability every balance or audit mutation must present.
// Its only field is unexported, so a valid token can only be minted inside
// this package, and only NewEngine does so. Stores call CheckToken before
// touching a row.
type WriteToken struct {
	issuer *Engine
}

// Valid reports whether the token was minted by an Engine.
func (t *WriteToken) Valid() bool {
	return t != nil && t.issuer != nil
}

// CheckToken returns a ConsistencyError when tok was not minted by an Engine.
func CheckToken(tok *WriteToken, key PairKey) error {
	if tok.Valid() {
		return nil
	}
	return &ConsistencyError{Key: key, Detail: "balance mutation attempted without a ledger write token"}
}
