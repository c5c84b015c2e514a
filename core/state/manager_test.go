package state

import (
	"math/big"
	"testing"

	"meritchain/native/credential"
	"meritchain/native/fund"
	"meritchain/storage"
)

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func TestStudentRecordRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	record := &fund.StudentRecord{
		Address:    addr(0x01),
		Verified:   true,
		HasScore:   true,
		MeritScore: 87,
		ProofHash:  [32]byte{0xAB, 0xCD},
		Received:   false,
		ScoredAt:   1_700_000_000,
	}
	if err := manager.FundStudentPut(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	loaded, ok, err := manager.FundStudentGet(record.Address)
	if err != nil || !ok {
		t.Fatalf("get after commit (ok=%v err=%v)", ok, err)
	}
	if *loaded != *record {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, record)
	}

	_, ok, err = manager.FundStudentGet(addr(0x02))
	if err != nil || ok {
		t.Fatalf("unknown student must be absent without error (ok=%v err=%v)", ok, err)
	}
}

func TestFundTotalRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	total, err := manager.FundTotal()
	if err != nil {
		t.Fatalf("initial total: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("initial total must be zero, got %s", total)
	}

	want := big.NewInt(9_920_000_000)
	if err := manager.FundSetTotal(want); err != nil {
		t.Fatalf("set total: %v", err)
	}
	total, err = manager.FundTotal()
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cmp(want) != 0 {
		t.Fatalf("total = %s, want %s", total, want)
	}

	if err := manager.FundSetTotal(big.NewInt(-1)); err == nil {
		t.Fatal("negative totals must be rejected")
	}
}

func TestAccountRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	owner := addr(0x03)

	account, err := manager.GetAccount(owner[:])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.Balance.Sign() != 0 {
		t.Fatalf("fresh account must start at zero, got %s", account.Balance)
	}

	account.Balance = big.NewInt(1234)
	account.Nonce = 7
	if err := manager.PutAccount(owner[:], account); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, err := manager.GetAccount(owner[:])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Nonce != 7 || loaded.Balance.Cmp(big.NewInt(1234)) != 0 {
		t.Fatalf("unexpected account %+v", loaded)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())

	next, err := manager.CredentialNextID()
	if err != nil || next != 1 {
		t.Fatalf("fresh counter must be 1 (next=%d err=%v)", next, err)
	}

	record := &credential.Enrollment{
		TokenID:    1,
		Owner:      addr(0x04),
		University: "State U",
		StudentID:  "S1",
		EnrolledAt: 1_700_000_000,
		Active:     true,
	}
	if err := manager.CredentialPut(record); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := manager.CredentialSetNextID(2); err != nil {
		t.Fatalf("set counter: %v", err)
	}
	if err := manager.CredentialSetOwnerTokens(record.Owner, []uint64{1}); err != nil {
		t.Fatalf("set owner tokens: %v", err)
	}

	loaded, ok, err := manager.CredentialGet(1)
	if err != nil || !ok {
		t.Fatalf("get (ok=%v err=%v)", ok, err)
	}
	if *loaded != *record {
		t.Fatalf("round trip mismatch: %+v vs %+v", loaded, record)
	}
	next, err = manager.CredentialNextID()
	if err != nil || next != 2 {
		t.Fatalf("counter = %d (err=%v), want 2", next, err)
	}
	tokens, err := manager.CredentialOwnerTokens(record.Owner)
	if err != nil || len(tokens) != 1 || tokens[0] != 1 {
		t.Fatalf("owner tokens = %v (err=%v)", tokens, err)
	}
	tokens, err = manager.CredentialOwnerTokens(addr(0x05))
	if err != nil || len(tokens) != 0 {
		t.Fatalf("unknown owner must have no tokens, got %v (err=%v)", tokens, err)
	}
}

func TestOverlayCommitAndRevert(t *testing.T) {
	db := storage.NewMemDB()
	manager := NewManager(db)

	if err := manager.FundSetTotal(big.NewInt(500)); err != nil {
		t.Fatalf("set total: %v", err)
	}
	if !manager.Pending() {
		t.Fatal("overlay must hold the pending write")
	}
	// The pending write is visible through the manager before commit.
	total, err := manager.FundTotal()
	if err != nil || total.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("pending read = %s (err=%v)", total, err)
	}

	manager.Revert()
	if manager.Pending() {
		t.Fatal("revert must clear the overlay")
	}
	total, err = manager.FundTotal()
	if err != nil || total.Sign() != 0 {
		t.Fatalf("reverted total must be zero, got %s (err=%v)", total, err)
	}

	if err := manager.FundSetTotal(big.NewInt(900)); err != nil {
		t.Fatalf("set total: %v", err)
	}
	if err := manager.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if manager.Pending() {
		t.Fatal("commit must clear the overlay")
	}

	// A second manager over the same database observes committed state only.
	fresh := NewManager(db)
	total, err = fresh.FundTotal()
	if err != nil || total.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("committed total = %s (err=%v), want 900", total, err)
	}
}

func TestVaultAddressStable(t *testing.T) {
	first := NewManager(storage.NewMemDB()).FundVaultAddress()
	second := NewManager(storage.NewMemDB()).FundVaultAddress()
	if first != second {
		t.Fatal("vault address must be the same across managers")
	}
	if first == ([20]byte{}) {
		t.Fatal("vault address must not be the zero address")
	}
}
