package relay

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/typeddata"
)

var testDomain = model.SigningDomain{
	Name:              "InviteTier",
	Version:           "1",
	ChainID:           big.NewInt(80002),
	VerifyingContract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
}

// fakeChain keeps per-signer nonces the way the contract does and advances
// them on every accepted submission.
type fakeChain struct {
	mu        sync.Mutex
	nonces    map[common.Address]*big.Int
	nonceErr  error
	submitErr error
	submitted []repository.SetInviteTierRequest
	delay     time.Duration
}

func newFakeChain() *fakeChain {
	return &fakeChain{nonces: make(map[common.Address]*big.Int)}
}

func (f *fakeChain) Nonce(_ context.Context, signer common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nonceErr != nil {
		return nil, f.nonceErr
	}
	if n, ok := f.nonces[signer]; ok {
		return new(big.Int).Set(n), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) SetInviteTierWithSig(_ context.Context, req repository.SetInviteTierRequest) (*repository.SubmittedTransaction, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	current, ok := f.nonces[req.Signer]
	if !ok {
		current = big.NewInt(0)
	}
	if current.Cmp(req.Nonce) != 0 {
		return nil, errors.New("estimateGas: transaction will fail: execution reverted: invalid nonce")
	}
	f.nonces[req.Signer] = new(big.Int).Add(current, big.NewInt(1))
	f.submitted = append(f.submitted, req)
	return &repository.SubmittedTransaction{
		Hash:         crypto.Keccak256Hash(req.Signature),
		GasEstimate:  50000,
		GasLimit:     60000,
		RelayerNonce: uint64(len(f.submitted) - 1),
	}, nil
}

func (f *fakeChain) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signedPayload(t *testing.T, key *ecdsa.PrivateKey, signer common.Address, users []common.Address, tier, nonce int64) model.RelayPayload {
	t.Helper()
	sig, err := typeddata.SignSetInviteTier(testDomain, users, big.NewInt(tier), big.NewInt(nonce), key)
	require.NoError(t, err)

	rawUsers := make([]string, len(users))
	for i, u := range users {
		rawUsers[i] = u.Hex()
	}
	return model.RelayPayload{
		Signer:    signer.Hex(),
		Users:     rawUsers,
		Tier:      model.NewUint256(tier),
		Nonce:     model.NewUint256(nonce),
		Signature: hexutil.Encode(sig),
	}
}

func requireKind(t *testing.T, err error, kind Kind, status int) *Error {
	t.Helper()
	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, kind, relayErr.Kind)
	assert.Equal(t, status, relayErr.Status())
	return relayErr
}

func TestService_Relay_Success(t *testing.T) {
	t.Parallel()

	key, signer := newKey(t)
	chain := newFakeChain()
	svc := NewService(chain, testDomain, Options{})

	payload := signedPayload(t, key, signer, []common.Address{signer}, 1, 0)
	// Signer comparison ignores checksum casing.
	payload.Signer = strings.ToLower(payload.Signer)

	res, err := svc.Relay(context.Background(), payload)
	require.NoError(t, err)

	sig, err := hexutil.Decode(payload.Signature)
	require.NoError(t, err)
	want := &model.RelayResult{
		TxHash:      crypto.Keccak256Hash(sig),
		GasEstimate: 50000,
		GasLimit:    60000,
		Nonce:       big.NewInt(0),
	}
	if diff := cmp.Diff(want, res, cmp.Comparer(func(a, b *big.Int) bool { return a.Cmp(b) == 0 })); diff != "" {
		t.Errorf("Relay() mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 1, chain.submissions())
	got := chain.submitted[0]
	assert.Equal(t, signer, got.Signer)
	assert.Equal(t, []common.Address{signer}, got.Users)
	assert.Equal(t, int64(1), got.Tier.Int64())
	assert.Equal(t, sig, got.Signature)
}

func TestService_Relay_ZeroTier(t *testing.T) {
	t.Parallel()

	key, signer := newKey(t)
	other := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	chain := newFakeChain()
	svc := NewService(chain, testDomain, Options{})

	_, err := svc.Relay(context.Background(), signedPayload(t, key, signer, []common.Address{signer, other}, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, chain.submissions())
	assert.Equal(t, 0, chain.submitted[0].Tier.Sign())
}

func TestService_Relay_ReplayAfterNonceAdvance(t *testing.T) {
	t.Parallel()

	key, signer := newKey(t)
	chain := newFakeChain()
	svc := NewService(chain, testDomain, Options{})
	payload := signedPayload(t, key, signer, []common.Address{signer}, 1, 0)

	_, err := svc.Relay(context.Background(), payload)
	require.NoError(t, err)

	_, err = svc.Relay(context.Background(), payload)
	relayErr := requireKind(t, err, KindNonceMismatch, http.StatusBadRequest)
	assert.Equal(t, map[string]any{"expected": "1", "provided": "0"}, relayErr.Details)
	assert.Equal(t, 1, chain.submissions())

	_, err = svc.Relay(context.Background(), signedPayload(t, key, signer, []common.Address{signer}, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, chain.submissions())
}

func TestService_Relay_Rejections(t *testing.T) {
	t.Parallel()

	key, signer := newKey(t)
	otherKey, _ := newKey(t)
	users := []common.Address{signer}

	tests := []struct {
		name       string
		payload    func() model.RelayPayload
		wantKind   Kind
		wantStatus int
	}{
		{
			name: "signature from a different key",
			payload: func() model.RelayPayload {
				return signedPayload(t, otherKey, signer, users, 1, 0)
			},
			wantKind:   KindSignerMismatch,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "signed over a different tier",
			payload: func() model.RelayPayload {
				p := signedPayload(t, key, signer, users, 1, 0)
				p.Tier = model.NewUint256(2)
				return p
			},
			wantKind:   KindSignerMismatch,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong nonce",
			payload: func() model.RelayPayload {
				return signedPayload(t, key, signer, users, 1, 7)
			},
			wantKind:   KindNonceMismatch,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing signature",
			payload: func() model.RelayPayload {
				p := signedPayload(t, key, signer, users, 1, 0)
				p.Signature = ""
				return p
			},
			wantKind:   KindBadRequest,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "truncated signature",
			payload: func() model.RelayPayload {
				p := signedPayload(t, key, signer, users, 1, 0)
				p.Signature = p.Signature[:len(p.Signature)-2]
				return p
			},
			wantKind:   KindSignatureInvalid,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "bad recovery id",
			payload: func() model.RelayPayload {
				p := signedPayload(t, key, signer, users, 1, 0)
				p.Signature = p.Signature[:len(p.Signature)-2] + "05"
				return p
			},
			wantKind:   KindSignatureInvalid,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "non-hex signature",
			payload: func() model.RelayPayload {
				p := signedPayload(t, key, signer, users, 1, 0)
				p.Signature = "0xzz"
				return p
			},
			wantKind:   KindBadRequest,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chain := newFakeChain()
			svc := NewService(chain, testDomain, Options{})

			res, err := svc.Relay(context.Background(), tt.payload())
			assert.Nil(t, res)
			requireKind(t, err, tt.wantKind, tt.wantStatus)
			assert.Zero(t, chain.submissions())
		})
	}
}

func TestService_Relay_UpstreamFailures(t *testing.T) {
	t.Parallel()

	key, signer := newKey(t)

	tests := []struct {
		name       string
		chain      *fakeChain
		wantKind   Kind
		wantStatus int
	}{
		{
			name:       "rpc unreachable during submission",
			chain:      &fakeChain{nonces: map[common.Address]*big.Int{}, submitErr: errors.New("broadcast: failed to send transaction: dial tcp 127.0.0.1:8545: connect: connection refused")},
			wantKind:   KindSubmissionError,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "submission deadline",
			chain:      &fakeChain{nonces: map[common.Address]*big.Int{}, submitErr: &wrappedErr{msg: "broadcast", err: context.DeadlineExceeded}},
			wantKind:   KindUpstreamTimeout,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "nonce read fails",
			chain:      &fakeChain{nonces: map[common.Address]*big.Int{}, nonceErr: errors.New("contract.Nonce: contract call failed: 502 Bad Gateway")},
			wantKind:   KindSubmissionError,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "nonce read deadline",
			chain:      &fakeChain{nonces: map[common.Address]*big.Int{}, nonceErr: context.DeadlineExceeded},
			wantKind:   KindUpstreamTimeout,
			wantStatus: http.StatusGatewayTimeout,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := NewService(tt.chain, testDomain, Options{})
			res, err := svc.Relay(context.Background(), signedPayload(t, key, signer, []common.Address{signer}, 1, 0))
			assert.Nil(t, res)
			relayErr := requireKind(t, err, tt.wantKind, tt.wantStatus)
			assert.Error(t, relayErr.Cause)
			assert.Zero(t, tt.chain.submissions())
		})
	}
}

type wrappedErr struct {
	msg string
	err error
}

func (w *wrappedErr) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrappedErr) Unwrap() error { return w.err }

func TestService_Relay_SerializeSigner(t *testing.T) {
	t.Parallel()

	key, signer := newKey(t)
	chain := newFakeChain()
	chain.delay = 10 * time.Millisecond
	svc := NewService(chain, testDomain, Options{SerializeSigner: true})
	payload := signedPayload(t, key, signer, []common.Address{signer}, 1, 0)

	const n = 5
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Relay(context.Background(), payload)
		}(i)
	}
	wg.Wait()

	var ok, mismatched int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var relayErr *Error
		require.ErrorAs(t, err, &relayErr)
		if relayErr.Kind == KindNonceMismatch {
			mismatched++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, mismatched)
	assert.Equal(t, 1, chain.submissions())
	assert.Empty(t, svc.signerLocks.locks)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := model.RelayPayload{
		Signer:    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Users:     []string{"0x70997970c51812dc3a010c7d01b50e0d17dc79c8"},
		Tier:      model.NewUint256(0),
		Nonce:     model.NewUint256(0),
		Signature: "0x" + strings.Repeat("ab", 65),
	}

	req, err := Validate(valid)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(valid.Signer), req.Signer)
	assert.Equal(t, 0, req.Tier.Sign())
	assert.Len(t, req.Signature, 65)

	unprefixed := valid
	unprefixed.Signature = strings.Repeat("ab", 65)
	req, err = Validate(unprefixed)
	require.NoError(t, err)
	assert.Len(t, req.Signature, 65)

	tests := []struct {
		name        string
		mutate      func(p *model.RelayPayload)
		wantMessage string
	}{
		{"missing signer", func(p *model.RelayPayload) { p.Signer = "" }, "Missing required fields in request body"},
		{"missing users", func(p *model.RelayPayload) { p.Users = nil }, "Missing required fields in request body"},
		{"missing tier", func(p *model.RelayPayload) { p.Tier = nil }, "Missing required fields in request body"},
		{"missing nonce", func(p *model.RelayPayload) { p.Nonce = nil }, "Missing required fields in request body"},
		{"empty users", func(p *model.RelayPayload) { p.Users = []string{} }, "users must not be empty"},
		{"bad signer", func(p *model.RelayPayload) { p.Signer = "0x1234" }, "Invalid signer address"},
		{"bad user", func(p *model.RelayPayload) { p.Users = append(p.Users, "alice") }, "Invalid user address at index 1"},
		{"bad signature hex", func(p *model.RelayPayload) { p.Signature = "0xabc" }, "Signature is not valid hex"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := valid
			p.Users = append([]string(nil), valid.Users...)
			tt.mutate(&p)

			_, err := Validate(p)
			relayErr := requireKind(t, err, KindBadRequest, http.StatusBadRequest)
			assert.Equal(t, tt.wantMessage, relayErr.Message)
		})
	}
}

func TestAsError(t *testing.T) {
	t.Parallel()

	classified := NewError(KindSignerMismatch, "Signer mismatch", nil)
	assert.Same(t, classified, AsError(classified))

	assert.Equal(t, KindSubmissionError, AsError(errors.New("boom")).Kind)
	assert.Equal(t, KindUpstreamTimeout, AsError(context.DeadlineExceeded).Kind)
	assert.Equal(t, http.StatusMethodNotAllowed, NewError(KindMethodNotAllowed, "Method not allowed", nil).Status())
	assert.Equal(t, http.StatusUnsupportedMediaType, NewError(KindUnsupportedMediaType, "Unsupported Media Type", nil).Status())
}
