package core

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"meritchain/core/events"
	"meritchain/core/state"
	"meritchain/core/types"
	"meritchain/native/credential"
	"meritchain/native/fund"
	"meritchain/observability"
	"meritchain/storage"
)

// DefaultEventLogSize bounds the in-memory event log retained for indexers.
const DefaultEventLogSize = 4096

// StoredEvent is an emitted ledger event decorated with its position in the
// global event stream.
type StoredEvent struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type pendingEmitter struct {
	buffer []*types.Event
}

func (p *pendingEmitter) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	if event := carrier.Event(); event != nil {
		p.buffer = append(p.buffer, event)
	}
}

func (p *pendingEmitter) reset() { p.buffer = p.buffer[:0] }

// Node owns the ledger. Every public operation runs to completion under a
// single mutex, commits its state writes atomically, and only then publishes
// its events, so observers never see a partially applied call.
type Node struct {
	mu sync.Mutex

	state      *state.Manager
	fund       *fund.Engine
	credential *credential.Registry
	emitter    *pendingEmitter

	eventLog  []StoredEvent
	seq       uint64
	maxEvents int
	nowFn     func() int64
}

// NewNode wires the ledger engines to a state manager over db. The admin
// address controls the scholarship fund and issues credentials; a previously
// persisted rotation takes precedence over the configured address.
func NewNode(db storage.Database, admin [20]byte) *Node {
	manager := state.NewManager(db)
	if stored, ok, err := manager.FundAdmin(); err == nil && ok {
		admin = stored
	}
	emitter := &pendingEmitter{}

	fundEngine := fund.NewEngine()
	fundEngine.SetState(manager)
	fundEngine.SetAdmin(admin)
	fundEngine.SetEmitter(emitter)

	registry := credential.NewRegistry()
	registry.SetState(manager)
	registry.SetIssuer(admin)
	registry.SetEmitter(emitter)

	return &Node{
		state:      manager,
		fund:       fundEngine,
		credential: registry,
		emitter:    emitter,
		maxEvents:  DefaultEventLogSize,
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the node clock, primarily for deterministic tests. The
// same clock drives event timestamps and record timestamps.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
	n.fund.SetNowFunc(now)
	n.credential.SetNowFunc(now)
}

// SetEventLogSize adjusts how many recent events the node retains.
func (n *Node) SetEventLogSize(size int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if size <= 0 {
		size = DefaultEventLogSize
	}
	n.maxEvents = size
	n.trimEventLog()
}

// Admin returns the current fund administrator.
func (n *Node) Admin() [20]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fund.Admin()
}

func (n *Node) trimEventLog() {
	if len(n.eventLog) > n.maxEvents {
		drop := len(n.eventLog) - n.maxEvents
		n.eventLog = append([]StoredEvent(nil), n.eventLog[drop:]...)
	}
}

// withWrite runs op under the node mutex. On success the state overlay is
// committed and buffered events are appended to the log; on failure both are
// discarded.
func (n *Node) withWrite(name string, op func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.applyWrite(name, op)
}

// applyWrite is withWrite without the locking; the caller must hold n.mu.
func (n *Node) applyWrite(name string, op func() error) error {
	n.emitter.reset()

	if err := op(); err != nil {
		n.state.Revert()
		n.emitter.reset()
		observability.LedgerOpProcessed(name, false)
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Revert()
		n.emitter.reset()
		observability.LedgerOpProcessed(name, false)
		return err
	}
	now := n.nowFn()
	for _, event := range n.emitter.buffer {
		n.seq++
		n.eventLog = append(n.eventLog, StoredEvent{
			Sequence:   n.seq,
			Timestamp:  now,
			Type:       event.Type,
			Attributes: event.Attributes,
		})
		observability.LedgerEventEmitted(event.Type)
	}
	n.emitter.reset()
	n.trimEventLog()
	observability.LedgerOpProcessed(name, true)
	return nil
}

func (n *Node) withRead(op func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := op()
	// Reads must not leave stray overlay entries behind.
	n.state.Revert()
	return err
}

// --- scholarship fund operations ---

// Deposit credits the pool from the donor's account balance.
func (n *Node) Deposit(donor [20]byte, amount *big.Int) error {
	return n.withWrite("fund_deposit", func() error {
		return n.fund.Deposit(donor, amount)
	})
}

// VerifyStudent marks the student as eligible for scoring.
func (n *Node) VerifyStudent(caller, student [20]byte) (*fund.StudentRecord, error) {
	var record *fund.StudentRecord
	err := n.withWrite("fund_verifyStudent", func() error {
		var opErr error
		record, opErr = n.fund.VerifyStudent(caller, student)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// BatchVerifyStudents verifies every address or none of them.
func (n *Node) BatchVerifyStudents(caller [20]byte, students [][20]byte) error {
	return n.withWrite("fund_batchVerifyStudents", func() error {
		return n.fund.BatchVerifyStudents(caller, students)
	})
}

// SetMeritScore records a score with its proof commitment.
func (n *Node) SetMeritScore(caller, student [20]byte, score uint32, proofHash [32]byte) (*fund.StudentRecord, error) {
	var record *fund.StudentRecord
	err := n.withWrite("fund_setMeritScore", func() error {
		var opErr error
		record, opErr = n.fund.SetMeritScore(caller, student, score, proofHash)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Distribute performs the one-time payout for the student and returns the
// amount paid.
func (n *Node) Distribute(caller, student [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := n.withWrite("fund_distribute", func() error {
		var opErr error
		amount, opErr = n.fund.Distribute(caller, student)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// StoreEnrollmentProof anchors an enrollment document hash in the event
// stream.
func (n *Node) StoreEnrollmentProof(caller, student [20]byte, documentHash [32]byte) error {
	return n.withWrite("fund_storeEnrollmentProof", func() error {
		return n.fund.StoreEnrollmentProof(caller, student, documentHash)
	})
}

// TransferAdmin rotates fund and credential authority to the next address.
// The live engines only switch identity once the rotation has been committed;
// a failed call leaves both the persisted and the in-memory admin untouched.
func (n *Node) TransferAdmin(caller, next [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	previous := n.fund.Admin()
	err := n.applyWrite("fund_transferAdmin", func() error {
		if err := n.fund.TransferAdministrator(caller, next); err != nil {
			return err
		}
		return n.state.FundSetAdmin(next)
	})
	if err != nil {
		n.fund.SetAdmin(previous)
		return err
	}
	n.credential.SetIssuer(next)
	return nil
}

// GetStudent returns the scholarship record for the address.
func (n *Node) GetStudent(student [20]byte) (*fund.StudentRecord, bool, error) {
	var (
		record *fund.StudentRecord
		ok     bool
	)
	err := n.withRead(func() error {
		var opErr error
		record, ok, opErr = n.fund.Student(student)
		return opErr
	})
	return record, ok, err
}

// TotalFunds returns the current pool balance.
func (n *Node) TotalFunds() (*big.Int, error) {
	var total *big.Int
	err := n.withRead(func() error {
		var opErr error
		total, opErr = n.fund.TotalFunds()
		return opErr
	})
	return total, err
}

// Balance returns the native balance of an account.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := n.withRead(func() error {
		account, opErr := n.state.GetAccount(addr[:])
		if opErr != nil {
			return opErr
		}
		balance = new(big.Int).Set(account.Balance)
		return nil
	})
	return balance, err
}

// Credit mints native balance to an account. Used by genesis allocation and
// test fixtures; it is not reachable through the RPC surface.
func (n *Node) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("core: credit amount must be positive")
	}
	return n.withWrite("core_credit", func() error {
		account, err := n.state.GetAccount(addr[:])
		if err != nil {
			return err
		}
		account.Balance = new(big.Int).Add(account.Balance, amount)
		return n.state.PutAccount(addr[:], account)
	})
}

// --- credential operations ---

// MintCredential issues a new enrollment credential and returns its token id.
func (n *Node) MintCredential(caller, to [20]byte, university, studentID string) (uint64, error) {
	var tokenID uint64
	err := n.withWrite("credential_mint", func() error {
		var opErr error
		tokenID, opErr = n.credential.Mint(caller, to, university, studentID)
		return opErr
	})
	if err != nil {
		return 0, err
	}
	return tokenID, nil
}

// GetCredential returns the enrollment behind a token id.
func (n *Node) GetCredential(tokenID uint64) (*credential.Enrollment, error) {
	var record *credential.Enrollment
	err := n.withRead(func() error {
		var opErr error
		record, opErr = n.credential.Get(tokenID)
		return opErr
	})
	return record, err
}

// UpdateCredentialStatus toggles a credential's active flag.
func (n *Node) UpdateCredentialStatus(caller [20]byte, tokenID uint64, active bool) (*credential.Enrollment, error) {
	var record *credential.Enrollment
	err := n.withWrite("credential_updateStatus", func() error {
		var opErr error
		record, opErr = n.credential.UpdateStatus(caller, tokenID, active)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// HasActiveEnrollment reports whether the address holds an active credential.
func (n *Node) HasActiveEnrollment(owner [20]byte) (bool, error) {
	var active bool
	err := n.withRead(func() error {
		var opErr error
		active, opErr = n.credential.HasActiveEnrollment(owner)
		return opErr
	})
	return active, err
}

// --- event log ---

// Events returns up to limit events with sequence numbers strictly greater
// than after, oldest first. A limit of zero or less returns everything
// retained. Attribute maps are copied so callers cannot alter the log.
func (n *Node) Events(after uint64, limit int) []StoredEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]StoredEvent, 0, len(n.eventLog))
	for _, event := range n.eventLog {
		if event.Sequence <= after {
			continue
		}
		copied := event
		copied.Attributes = make(map[string]string, len(event.Attributes))
		for key, value := range event.Attributes {
			copied.Attributes[key] = value
		}
		out = append(out, copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// LatestSequence returns the sequence number assigned to the newest event.
func (n *Node) LatestSequence() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}
