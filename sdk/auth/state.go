package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// ExchangeState is a single sign-in attempt's PKCE record, keyed by its state
// token. The verifier never leaves the state manager except through
// RetrieveState at code exchange time.
type ExchangeState struct {
	// State is the opaque anti-forgery token, unique per sign-in attempt.
	State string `json:"state"`
	// CodeVerifier is the high-entropy PKCE secret.
	CodeVerifier string `json:"code_verifier"`
	// CodeChallenge is the S256 derivation of CodeVerifier.
	CodeChallenge string `json:"code_challenge"`
	// ChallengeMethod is always S256.
	ChallengeMethod string `json:"code_challenge_method"`
	// RedirectTo is the optional post-login destination.
	RedirectTo string `json:"redirect_to,omitempty"`
	// InstanceID tags the client instance that minted the record.
	InstanceID string `json:"instance_id"`
	// CreatedAt is the mint time.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is when the record stops being usable.
	ExpiresAt time.Time `json:"expires_at"`
	// StorageMethod names the backing store that accepted the write.
	StorageMethod string `json:"storage_method,omitempty"`
}

// StateManagerOptions configures a StateManager.
type StateManagerOptions struct {
	// Stores is the prioritized list of backing stores; writes try them in order.
	Stores []StateStore
	// KeyPrefix namespaces records in every store.
	KeyPrefix string
	// TTL is how long a minted record stays valid. Default 10 minutes.
	TTL time.Duration
	// VerifierBytes is the code verifier entropy in bytes. Default 32.
	VerifierBytes int
	// StateBytes is the state token entropy in bytes. Default 32.
	StateBytes int
	// InstanceID tags minted records for diagnostics.
	InstanceID string
}

// StateManager owns PKCE exchange states: it mints them, persists them across
// a prioritized list of backing stores, and hands each one out exactly once.
type StateManager struct {
	stores        []StateStore
	keyPrefix     string
	ttl           time.Duration
	verifierBytes int
	stateBytes    int
	instanceID    string
}

// NewStateManager constructs a StateManager. At least one store is required.
func NewStateManager(opts StateManagerOptions) (*StateManager, error) {
	if len(opts.Stores) == 0 {
		return nil, fmt.Errorf("state manager requires at least one backing store")
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "cropgenius-pkce-"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.VerifierBytes <= 0 {
		opts.VerifierBytes = 32
	}
	if opts.StateBytes <= 0 {
		opts.StateBytes = 32
	}
	return &StateManager{
		stores:        opts.Stores,
		keyPrefix:     opts.KeyPrefix,
		ttl:           opts.TTL,
		verifierBytes: opts.VerifierBytes,
		stateBytes:    opts.StateBytes,
		instanceID:    opts.InstanceID,
	}, nil
}

func (m *StateManager) key(state string) string {
	return m.keyPrefix + state
}

// GenerateAndStoreState mints a fresh PKCE record and persists it in the first
// backing store that accepts the write, recording which one did. It returns a
// classified configuration error when every store refuses.
func (m *StateManager) GenerateAndStoreState(ctx context.Context, redirectTo string) (*ExchangeState, error) {
	codes, err := GeneratePKCECodes(m.verifierBytes)
	if err != nil {
		return nil, newConfigurationError(err.Error(), "Failed to generate PKCE codes from the system entropy source.", m.instanceID)
	}
	state, err := GenerateStateToken(m.stateBytes)
	if err != nil {
		return nil, newConfigurationError(err.Error(), "Failed to generate the anti-forgery state token.", m.instanceID)
	}

	now := time.Now()
	record := &ExchangeState{
		State:           state,
		CodeVerifier:    codes.CodeVerifier,
		CodeChallenge:   codes.CodeChallenge,
		ChallengeMethod: ChallengeMethodS256,
		RedirectTo:      redirectTo,
		InstanceID:      m.instanceID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
	}

	var lastErr error
	for _, store := range m.stores {
		record.StorageMethod = store.Name()
		payload, err := json.Marshal(record)
		if err != nil {
			return nil, newConfigurationError(err.Error(), "Failed to encode the PKCE state record.", m.instanceID)
		}
		if err = store.Set(ctx, m.key(state), payload, m.ttl); err != nil {
			lastErr = err
			log.WithFields(log.Fields{
				"state":   state,
				"storage": store.Name(),
			}).Warnf("state store write failed, trying next: %v", err)
			continue
		}
		log.WithFields(log.Fields{
			"state":   state,
			"storage": store.Name(),
		}).Debug("PKCE state stored")
		return record, nil
	}

	return nil, newConfigurationError(
		fmt.Sprintf("no state store accepted the write: %v", lastErr),
		"Every configured PKCE backing store rejected the write. Check store connectivity and permissions.",
		m.instanceID,
	)
}

// RetrieveState looks up a record by state token and consumes it: a found
// record is removed from its store in the same step, so a second retrieval
// for the same token observes not-found. Absence and expiry are normal
// negative results, reported as (nil, nil).
func (m *StateManager) RetrieveState(ctx context.Context, state string) (*ExchangeState, error) {
	key := m.key(state)
	for _, store := range m.stores {
		payload, err := store.Take(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("state store %s read failed: %w", store.Name(), err)
		}
		if payload == nil {
			continue
		}

		var record ExchangeState
		if err = json.Unmarshal(payload, &record); err != nil {
			log.WithFields(log.Fields{"state": state, "storage": store.Name()}).Warnf("discarding undecodable PKCE state: %v", err)
			return nil, nil
		}
		if time.Now().After(record.ExpiresAt) {
			log.WithFields(log.Fields{"state": state, "storage": store.Name()}).Debug("PKCE state expired")
			return nil, nil
		}
		return &record, nil
	}
	return nil, nil
}

// CleanupState deletes the record from every backing store. It is idempotent;
// deleting an already consumed or absent record is not an error.
func (m *StateManager) CleanupState(ctx context.Context, state string) {
	key := m.key(state)
	for _, store := range m.stores {
		if err := store.Delete(ctx, key); err != nil {
			log.WithFields(log.Fields{"state": state, "storage": store.Name()}).Warnf("state cleanup failed: %v", err)
		}
	}
}

// CleanupExpired sweeps expired records out of every backing store and
// returns how many were removed.
func (m *StateManager) CleanupExpired(ctx context.Context) int {
	total := 0
	for _, store := range m.stores {
		removed, err := store.CleanupExpired(ctx)
		if err != nil {
			log.WithFields(log.Fields{"storage": store.Name()}).Warnf("expired state sweep failed: %v", err)
			continue
		}
		total += removed
	}
	if total > 0 {
		log.Debugf("cleaned up %d expired PKCE states", total)
	}
	return total
}
