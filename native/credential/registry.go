package credential

import (
	"errors"
	"time"

	"meritchain/core/events"
	"meritchain/core/types"
)

var (
	errNilState  = errors.New("credential registry: state not configured")
	errNilIssuer = errors.New("credential registry: issuer not configured")
)

type registryState interface {
	CredentialGet(tokenID uint64) (*Enrollment, bool, error)
	CredentialPut(*Enrollment) error
	CredentialNextID() (uint64, error)
	CredentialSetNextID(uint64) error
	CredentialOwnerTokens(owner [20]byte) ([]uint64, error)
	CredentialSetOwnerTokens(owner [20]byte, tokens []uint64) error
}

type credentialEvent struct {
	evt *types.Event
}

func (e credentialEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e credentialEvent) Event() *types.Event { return e.evt }

// Registry issues and tracks non-transferable enrollment credentials. A single
// issuer address controls minting and status updates; holders can only be
// queried, never moved.
type Registry struct {
	state   registryState
	emitter events.Emitter
	issuer  [20]byte
	nowFn   func() int64
}

// NewRegistry creates a credential registry with a no-op emitter.
func NewRegistry() *Registry {
	return &Registry{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetIssuer configures the issuing identity. The zero address disables
// minting and status updates.
func (r *Registry) SetIssuer(addr [20]byte) { r.issuer = addr }

// Issuer returns the current issuing identity.
func (r *Registry) Issuer() [20]byte { return r.issuer }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) emit(event *types.Event) {
	if r == nil || r.emitter == nil || event == nil {
		return
	}
	r.emitter.Emit(credentialEvent{evt: event})
}

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

func (r *Registry) requireIssuer(caller [20]byte) error {
	if r == nil {
		return errNilIssuer
	}
	if r.issuer == ([20]byte{}) {
		return errNilIssuer
	}
	if caller != r.issuer {
		return ErrUnauthorized
	}
	return nil
}

// Mint issues a new active credential to the recipient and returns the token
// id. Token ids are assigned sequentially starting at 1.
func (r *Registry) Mint(caller, to [20]byte, university, studentID string) (uint64, error) {
	if r == nil || r.state == nil {
		return 0, errNilState
	}
	if err := r.requireIssuer(caller); err != nil {
		return 0, err
	}
	if to == ([20]byte{}) {
		return 0, errors.New("credential: recipient address required")
	}
	next, err := r.state.CredentialNextID()
	if err != nil {
		return 0, err
	}
	if next == 0 {
		next = 1
	}
	record := &Enrollment{
		TokenID:    next,
		Owner:      to,
		University: university,
		StudentID:  studentID,
		EnrolledAt: uint64(r.now()),
		Active:     true,
	}
	if err := record.Validate(); err != nil {
		return 0, err
	}
	if err := r.state.CredentialPut(record); err != nil {
		return 0, err
	}
	if err := r.state.CredentialSetNextID(next + 1); err != nil {
		return 0, err
	}
	tokens, err := r.state.CredentialOwnerTokens(to)
	if err != nil {
		return 0, err
	}
	if err := r.state.CredentialSetOwnerTokens(to, append(tokens, next)); err != nil {
		return 0, err
	}
	r.emit(NewMintedEvent(to, next, university, studentID))
	return next, nil
}

// Get returns a copy of the enrollment behind the token id.
func (r *Registry) Get(tokenID uint64) (*Enrollment, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	record, ok, err := r.state.CredentialGet(tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// UpdateStatus flips the active flag on an existing credential. Setting the
// current value again is accepted and still emits the status event.
func (r *Registry) UpdateStatus(caller [20]byte, tokenID uint64, active bool) (*Enrollment, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if err := r.requireIssuer(caller); err != nil {
		return nil, err
	}
	record, ok, err := r.state.CredentialGet(tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	record.Active = active
	if err := r.state.CredentialPut(record); err != nil {
		return nil, err
	}
	r.emit(NewStatusUpdatedEvent(tokenID, active))
	return record.Clone(), nil
}

// OwnerOf returns the holder of the token id.
func (r *Registry) OwnerOf(tokenID uint64) ([20]byte, error) {
	record, err := r.Get(tokenID)
	if err != nil {
		return [20]byte{}, err
	}
	return record.Owner, nil
}

// HasActiveEnrollment reports whether the address holds at least one active
// credential.
func (r *Registry) HasActiveEnrollment(owner [20]byte) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	tokens, err := r.state.CredentialOwnerTokens(owner)
	if err != nil {
		return false, err
	}
	for _, tokenID := range tokens {
		record, ok, err := r.state.CredentialGet(tokenID)
		if err != nil {
			return false, err
		}
		if ok && record.Active {
			return true, nil
		}
	}
	return false, nil
}

// Transfer always fails. Credentials attest facts about the minted address and
// moving one would detach the attestation from its subject.
func (r *Registry) Transfer(caller, from, to [20]byte, tokenID uint64) error {
	return ErrNonTransferable
}
