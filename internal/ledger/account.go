package ledger

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AssetID identifies a fungible asset. Pool ids and LP tokens share the
// same id space.
type AssetID uint32

// systemNamespace derives system account ids; changing it re-keys every
// escrow balance.
var systemNamespace = uuid.MustParse("6f1c1f0e-4a57-4d0b-9d53-2b8f4e0c7a11")

// escrowPrefix carries the leading 12 bytes shared by every pool escrow.
// The trailing 4 bytes hold the pool id.
var escrowPrefix = uuid.NewSHA1(systemNamespace, []byte("dex_escrow"))

// PoolEscrowAccount is the system account holding the reserves of one pool.
func PoolEscrowAccount(poolID AssetID) uuid.UUID {
	id := escrowPrefix
	binary.BigEndian.PutUint32(id[12:], uint32(poolID))
	return id
}

// SystemAccountName reports whether id is a system account.
func SystemAccountName(id uuid.UUID) (string, bool) {
	if !bytes.Equal(id[:12], escrowPrefix[:12]) {
		return "", false
	}
	return fmt.Sprintf("dex_escrow/%d", binary.BigEndian.Uint32(id[12:])), true
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
	AssetID  AssetID
}

// KeyFor classifies an account id into its scope.
func KeyFor(account uuid.UUID, assetID AssetID) AccountKey {
	scope := AccountScopeUser
	if _, ok := SystemAccountName(account); ok {
		scope = AccountScopeSystem
	}
	return AccountKey{Scope: scope, EntityID: account, AssetID: assetID}
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeUser, EntityID: userID, AssetID: assetID}
}

// NewIssuanceAccountKey is the external boundary that mints credit and
// burns debit. Its projected balance is the negated supply.
func NewIssuanceAccountKey(assetID AssetID) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, AssetID: assetID}
}

// AccountID returns the owning account id.
func (k AccountKey) AccountID() uuid.UUID {
	return uuid.UUID(k.EntityID)
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%d", uuid.UUID(k.EntityID).String(), k.AssetID)
	case AccountScopeSystem:
		name, ok := SystemAccountName(uuid.UUID(k.EntityID))
		if !ok {
			name = uuid.UUID(k.EntityID).String()
		}
		return fmt.Sprintf("system:%s:%d", name, k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:issuance:%d", k.AssetID)
	}
	return "unknown"
}
