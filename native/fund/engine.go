package fund

import (
	"errors"
	"math/big"
	"time"

	"meritchain/core/events"
	"meritchain/core/types"
)

var (
	errNilState = errors.New("fund engine: state not configured")
	errNilAdmin = errors.New("fund engine: administrator not configured")
)

type engineState interface {
	FundStudentGet(addr [20]byte) (*StudentRecord, bool, error)
	FundStudentPut(*StudentRecord) error
	FundTotal() (*big.Int, error)
	FundSetTotal(*big.Int) error
	FundVaultAddress() [20]byte
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type fundEvent struct {
	evt *types.Event
}

func (e fundEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e fundEvent) Event() *types.Event { return e.evt }

// Engine wires the scholarship fund business logic with external state and
// event emitters. All mutating entry points take the caller address explicitly
// so the transaction layer stays responsible for authentication.
type Engine struct {
	state   engineState
	emitter events.Emitter
	admin   [20]byte
	nowFn   func() int64
}

// NewEngine creates a fund engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdmin configures the administrative identity. The zero address disables
// all admin-gated operations.
func (e *Engine) SetAdmin(addr [20]byte) { e.admin = addr }

// Admin returns the current administrative identity.
func (e *Engine) Admin() [20]byte { return e.admin }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(fundEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) requireAdmin(caller [20]byte) error {
	if e == nil {
		return errNilAdmin
	}
	if e.admin == ([20]byte{}) {
		return errNilAdmin
	}
	if caller != e.admin {
		return ErrUnauthorized
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadStudent(addr [20]byte) (*StudentRecord, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	return e.state.FundStudentGet(addr)
}

func (e *Engine) storeStudent(record *StudentRecord) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := record.Validate(); err != nil {
		return err
	}
	return e.state.FundStudentPut(record)
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = types.EnsureAccount(fromAcc)
	toAcc = types.EnsureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// Deposit moves the attached amount from the donor into the fund vault and
// grows the pool. Anyone may deposit; this is the only path by which the pool
// grows.
func (e *Engine) Deposit(from [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.transfer(from, e.state.FundVaultAddress(), amt); err != nil {
		return err
	}
	total, err := e.state.FundTotal()
	if err != nil {
		return err
	}
	total = new(big.Int).Add(cloneBigInt(total), amt)
	if err := e.state.FundSetTotal(total); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(from, amt))
	return nil
}

// VerifyStudent clears a student for scoring. Re-verifying an already verified
// student is an idempotent no-op so batch and retry flows stay simple.
func (e *Engine) VerifyStudent(caller, student [20]byte) (*StudentRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if student == ([20]byte{}) {
		return nil, errors.New("fund: student address required")
	}
	record, ok, err := e.loadStudent(student)
	if err != nil {
		return nil, err
	}
	if ok && record.Verified {
		return record, nil
	}
	if !ok {
		record = &StudentRecord{Address: student}
	}
	record.Verified = true
	if err := e.storeStudent(record); err != nil {
		return nil, err
	}
	e.emit(NewStudentVerifiedEvent(student))
	return record.Clone(), nil
}

// BatchVerifyStudents applies VerifyStudent semantics to each address in
// order. The transaction layer reverts the whole call on the first failure,
// so the batch is all-or-nothing.
func (e *Engine) BatchVerifyStudents(caller [20]byte, students [][20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if len(students) == 0 {
		return errors.New("fund: at least one student required")
	}
	for _, student := range students {
		if student == ([20]byte{}) {
			return errors.New("fund: student address required")
		}
	}
	for _, student := range students {
		if _, err := e.VerifyStudent(caller, student); err != nil {
			return err
		}
	}
	return nil
}

// SetMeritScore records the score and proof hash for a verified student.
// Re-scoring before distribution overwrites the prior value; once a payout has
// occurred the score is frozen for audit integrity.
func (e *Engine) SetMeritScore(caller, student [20]byte, score uint32, proofHash [32]byte) (*StudentRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	record, ok, err := e.loadStudent(student)
	if err != nil {
		return nil, err
	}
	if !ok || !record.Verified {
		return nil, ErrNotVerified
	}
	if record.Received {
		return nil, ErrScoreFrozen
	}
	if score > MaxMeritScore {
		return nil, ErrInvalidScore
	}
	record.MeritScore = score
	record.HasScore = true
	record.ProofHash = proofHash
	record.ScoredAt = uint64(e.now())
	if err := e.storeStudent(record); err != nil {
		return nil, err
	}
	e.emit(NewScoreProofEvent(student, score, proofHash))
	return record.Clone(), nil
}

// PayoutAmount computes the payout for the supplied score against a pool
// snapshot: floor(pool * score / 10000). Fractional remainders stay in the
// pool.
func PayoutAmount(pool *big.Int, score uint32) *big.Int {
	if pool == nil || pool.Sign() <= 0 || score == 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(pool, new(big.Int).SetUint64(uint64(score)))
	return amount.Div(amount, new(big.Int).SetUint64(PayoutDenominator))
}

// Distribute performs the one-time proportional payout for an eligible
// student. Preconditions are checked in order, each with a distinct failure:
// verified, scored, not yet paid, payout within the pool.
func (e *Engine) Distribute(caller, student [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	record, ok, err := e.loadStudent(student)
	if err != nil {
		return nil, err
	}
	if !ok || !record.Verified {
		return nil, ErrNotVerified
	}
	if !record.HasScore {
		return nil, ErrNoMeritScore
	}
	if record.Received {
		return nil, ErrAlreadyDistributed
	}
	total, err := e.state.FundTotal()
	if err != nil {
		return nil, err
	}
	// Single pool snapshot: compute from it, deduct, then transfer.
	snapshot := cloneBigInt(total)
	amount := PayoutAmount(snapshot, record.MeritScore)
	if amount.Cmp(snapshot) > 0 {
		return nil, ErrInsufficientFunds
	}
	remaining := new(big.Int).Sub(snapshot, amount)
	if remaining.Sign() < 0 {
		return nil, ErrInsufficientFunds
	}
	if err := e.state.FundSetTotal(remaining); err != nil {
		return nil, err
	}
	if err := e.transfer(e.state.FundVaultAddress(), student, amount); err != nil {
		return nil, err
	}
	record.Received = true
	if err := e.storeStudent(record); err != nil {
		return nil, err
	}
	e.emit(NewPayoutEvent(student, amount))
	return amount, nil
}

// StoreEnrollmentProof records an enrollment document hash for off-chain
// review. The student themself or the administrator may submit; the call has
// no effect on eligibility until the administrator verifies the student.
func (e *Engine) StoreEnrollmentProof(caller, student [20]byte, documentHash [32]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != student && caller != e.admin {
		return ErrUnauthorized
	}
	if student == ([20]byte{}) {
		return errors.New("fund: student address required")
	}
	if documentHash == ([32]byte{}) {
		return errors.New("fund: document hash required")
	}
	e.emit(NewEnrollmentProofEvent(student, documentHash))
	return nil
}

// TransferAdministrator hands administrative authority to the next address.
func (e *Engine) TransferAdministrator(caller, next [20]byte) error {
	if e == nil {
		return errNilAdmin
	}
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if next == ([20]byte{}) {
		return errors.New("fund: new administrator address required")
	}
	previous := e.admin
	e.admin = next
	e.emit(NewAdminRotatedEvent(previous, next))
	return nil
}

// IsVerified reports whether the address has been cleared by the admin.
func (e *Engine) IsVerified(student [20]byte) (bool, error) {
	record, ok, err := e.loadStudent(student)
	if err != nil {
		return false, err
	}
	return ok && record.Verified, nil
}

// MeritScore returns the recorded score; zero when none has been set.
func (e *Engine) MeritScore(student [20]byte) (uint32, error) {
	record, ok, err := e.loadStudent(student)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return record.MeritScore, nil
}

// HasReceived reports whether the payout already happened for the address.
func (e *Engine) HasReceived(student [20]byte) (bool, error) {
	record, ok, err := e.loadStudent(student)
	if err != nil {
		return false, err
	}
	return ok && record.Received, nil
}

// TotalFunds returns the current pool balance.
func (e *Engine) TotalFunds() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	total, err := e.state.FundTotal()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(total), nil
}

// Student returns a copy of the full record for the address.
func (e *Engine) Student(student [20]byte) (*StudentRecord, bool, error) {
	record, ok, err := e.loadStudent(student)
	if err != nil || !ok {
		return nil, ok, err
	}
	return record.Clone(), true, nil
}
