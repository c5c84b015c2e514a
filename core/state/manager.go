// Package state persists ledger records in a key-value store. Keys are
// keccak hashes of namespaced preimages and values are RLP encoded, so any
// storage.Database backend can hold the full ledger.
package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"meritchain/core/types"
	"meritchain/native/credential"
	"meritchain/native/fund"
	"meritchain/storage"
)

var (
	fundStudentPrefix     = []byte("fund/student:")
	fundTotalKey          = ethcrypto.Keccak256([]byte("fund/total"))
	fundAdminKey          = ethcrypto.Keccak256([]byte("fund/admin"))
	fundVaultSeed         = []byte("meritchain/fund/vault")
	accountPrefix         = []byte("account:")
	credentialTokenPrefix = []byte("credential/token:")
	credentialNextIDKey   = ethcrypto.Keccak256([]byte("credential/next-id"))
	credentialOwnerPrefix = []byte("credential/owner:")
)

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

// Manager reads and writes ledger state. Writes are buffered in an overlay
// until Commit so a failed operation can be rolled back with Revert without
// touching the backing store.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
	vault   [20]byte
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	m := &Manager{
		db:      db,
		overlay: make(map[string][]byte),
	}
	copy(m.vault[:], ethcrypto.Keccak256(fundVaultSeed)[12:])
	return m
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if value, ok := m.overlay[string(key)]; ok {
		return value, true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) put(key, value []byte) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.overlay[string(key)] = buf
	return nil
}

// Commit flushes buffered writes to the backing store and clears the overlay.
// Keys are written in sorted order so failures are reproducible.
func (m *Manager) Commit() error {
	keys := make([]string, 0, len(m.overlay))
	for key := range m.overlay {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := m.db.Put([]byte(key), m.overlay[key]); err != nil {
			return fmt.Errorf("state commit: %w", err)
		}
	}
	m.overlay = make(map[string][]byte)
	return nil
}

// Revert drops all buffered writes.
func (m *Manager) Revert() {
	m.overlay = make(map[string][]byte)
}

// Pending reports whether the overlay holds uncommitted writes.
func (m *Manager) Pending() bool { return len(m.overlay) > 0 }

// --- accounts ---

// GetAccount loads the account behind addr, returning a fresh zero-balance
// account when none exists yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	data, ok, err := m.get(prefixedKey(accountPrefix, addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	account := new(types.Account)
	if err := rlp.DecodeBytes(data, account); err != nil {
		return nil, fmt.Errorf("state: decode account: %w", err)
	}
	return types.EnsureAccount(account), nil
}

// PutAccount stores the account behind addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	encoded, err := rlp.EncodeToBytes(types.EnsureAccount(account))
	if err != nil {
		return fmt.Errorf("state: encode account: %w", err)
	}
	return m.put(prefixedKey(accountPrefix, addr), encoded)
}

// --- scholarship fund ---

// FundVaultAddress returns the address the pool balance is custodied at. It is
// derived from a fixed seed so every node agrees on it.
func (m *Manager) FundVaultAddress() [20]byte { return m.vault }

// FundStudentGet loads the scholarship record for the address.
func (m *Manager) FundStudentGet(addr [20]byte) (*fund.StudentRecord, bool, error) {
	data, ok, err := m.get(prefixedKey(fundStudentPrefix, addr[:]))
	if err != nil || !ok {
		return nil, false, err
	}
	record := new(fund.StudentRecord)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, false, fmt.Errorf("state: decode student record: %w", err)
	}
	return record, true, nil
}

// FundStudentPut stores the scholarship record keyed by its address.
func (m *Manager) FundStudentPut(record *fund.StudentRecord) error {
	if record == nil {
		return errors.New("state: student record must not be nil")
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("state: encode student record: %w", err)
	}
	return m.put(prefixedKey(fundStudentPrefix, record.Address[:]), encoded)
}

// FundTotal returns the current pool balance, zero when never set.
func (m *Manager) FundTotal() (*big.Int, error) {
	data, ok, err := m.get(fundTotalKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	total := new(big.Int)
	if err := rlp.DecodeBytes(data, total); err != nil {
		return nil, fmt.Errorf("state: decode fund total: %w", err)
	}
	return total, nil
}

// FundSetTotal stores the pool balance.
func (m *Manager) FundSetTotal(total *big.Int) error {
	if total == nil || total.Sign() < 0 {
		return errors.New("state: fund total must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(total)
	if err != nil {
		return fmt.Errorf("state: encode fund total: %w", err)
	}
	return m.put(fundTotalKey, encoded)
}

// FundAdmin returns the persisted administrator address, if one has been
// stored.
func (m *Manager) FundAdmin() ([20]byte, bool, error) {
	data, ok, err := m.get(fundAdminKey)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	var addr [20]byte
	if len(data) != len(addr) {
		return [20]byte{}, false, fmt.Errorf("state: malformed admin address (%d bytes)", len(data))
	}
	copy(addr[:], data)
	return addr, true, nil
}

// FundSetAdmin persists the administrator address so rotation survives a
// restart.
func (m *Manager) FundSetAdmin(addr [20]byte) error {
	if addr == ([20]byte{}) {
		return errors.New("state: admin address required")
	}
	return m.put(fundAdminKey, addr[:])
}

// --- enrollment credentials ---

// CredentialGet loads the enrollment behind a token id.
func (m *Manager) CredentialGet(tokenID uint64) (*credential.Enrollment, bool, error) {
	data, ok, err := m.get(prefixedKey(credentialTokenPrefix, uint64Key(tokenID)))
	if err != nil || !ok {
		return nil, false, err
	}
	record := new(credential.Enrollment)
	if err := rlp.DecodeBytes(data, record); err != nil {
		return nil, false, fmt.Errorf("state: decode enrollment: %w", err)
	}
	return record, true, nil
}

// CredentialPut stores the enrollment keyed by its token id.
func (m *Manager) CredentialPut(record *credential.Enrollment) error {
	if record == nil {
		return errors.New("state: enrollment must not be nil")
	}
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("state: encode enrollment: %w", err)
	}
	return m.put(prefixedKey(credentialTokenPrefix, uint64Key(record.TokenID)), encoded)
}

// CredentialNextID returns the next token id to assign, 1 when nothing has
// been minted yet.
func (m *Manager) CredentialNextID() (uint64, error) {
	data, ok, err := m.get(credentialNextIDKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	var next uint64
	if err := rlp.DecodeBytes(data, &next); err != nil {
		return 0, fmt.Errorf("state: decode credential counter: %w", err)
	}
	return next, nil
}

// CredentialSetNextID stores the token id counter.
func (m *Manager) CredentialSetNextID(next uint64) error {
	encoded, err := rlp.EncodeToBytes(next)
	if err != nil {
		return fmt.Errorf("state: encode credential counter: %w", err)
	}
	return m.put(credentialNextIDKey, encoded)
}

// CredentialOwnerTokens returns the token ids held by the owner.
func (m *Manager) CredentialOwnerTokens(owner [20]byte) ([]uint64, error) {
	data, ok, err := m.get(prefixedKey(credentialOwnerPrefix, owner[:]))
	if err != nil || !ok {
		return nil, err
	}
	var tokens []uint64
	if err := rlp.DecodeBytes(data, &tokens); err != nil {
		return nil, fmt.Errorf("state: decode owner tokens: %w", err)
	}
	return tokens, nil
}

// CredentialSetOwnerTokens stores the ownership index for the owner.
func (m *Manager) CredentialSetOwnerTokens(owner [20]byte, tokens []uint64) error {
	encoded, err := rlp.EncodeToBytes(tokens)
	if err != nil {
		return fmt.Errorf("state: encode owner tokens: %w", err)
	}
	return m.put(prefixedKey(credentialOwnerPrefix, owner[:]), encoded)
}

func uint64Key(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf
}
