package tendermint

import (
	"fmt"
	"math/big"

	"github.com/ironledger/ironchain/internal/xcrypto"
)

// ValidatorSet is the fixed, ordered set of validators entitled to vote
// and propose at a given height. Lookup is by both index (for the vote
// collector's compact encoding) and public key (for signature checks).
type ValidatorSet struct {
	members []xcrypto.PublicKey
}

// NewValidatorSet builds a set from an ordered member list.
func NewValidatorSet(members []xcrypto.PublicKey) *ValidatorSet {
	return &ValidatorSet{members: append([]xcrypto.PublicKey(nil), members...)}
}

func (vs *ValidatorSet) Len() int { return len(vs.members) }

// ByIndex returns the validator at idx, or false if out of range — the
// vote collector's "bad signer index" check.
func (vs *ValidatorSet) ByIndex(idx uint32) (xcrypto.PublicKey, bool) {
	if int(idx) >= len(vs.members) {
		return xcrypto.PublicKey{}, false
	}
	return vs.members[idx], true
}

// Quorum is the +2/3 threshold: the smallest count strictly greater than
// 2/3 of the set.
func (vs *ValidatorSet) Quorum() int {
	n := len(vs.members)
	return (2*n)/3 + 1
}

// PriorityInfo is the evidence bundle accompanying a proposal, proving
// the signer's entitlement to propose at (height, view): spec.md §4.5's
// verifiable priority.
type PriorityInfo struct {
	SignerIndex uint32
	PublicKey   xcrypto.PublicKey
	Signature   xcrypto.Signature
	Priority    *big.Int
}

// priorityDigest is the message each validator signs to derive its
// priority: H(height, view).
func priorityDigest(height, view uint64) xcrypto.H256 {
	buf := make([]byte, 0, 16)
	buf = appendUint64(buf, height)
	buf = appendUint64(buf, view)
	return xcrypto.Hash(buf)
}

// ComputePriority signs (height, view) with priv and derives the
// candidate's priority value (the leading bits of H(signature),
// interpreted as a big-endian integer — lower wins).
func ComputePriority(priv xcrypto.PrivateKey, signerIndex uint32, height, view uint64) (PriorityInfo, error) {
	digest := priorityDigest(height, view)
	sig, err := priv.Sign(digest)
	if err != nil {
		return PriorityInfo{}, fmt.Errorf("tendermint: sign priority: %w", err)
	}
	sigHash := xcrypto.Hash(sig.Bytes())
	return PriorityInfo{
		SignerIndex: signerIndex,
		PublicKey:   priv.Public(),
		Signature:   sig,
		Priority:    new(big.Int).SetBytes(sigHash[:]),
	}, nil
}

// Verify checks that info.SignerIndex names a member of vs, that
// info.PublicKey is that exact validator's key (binding the bundle to
// the validator set rather than trusting whatever key rode along on the
// wire), that info's signature is valid for (height, view), and that the
// derived priority matches info.Priority.
func (info PriorityInfo) Verify(vs *ValidatorSet, height, view uint64) bool {
	expected, ok := vs.ByIndex(info.SignerIndex)
	if !ok || !expected.Equal(info.PublicKey) {
		return false
	}
	digest := priorityDigest(height, view)
	if !info.Signature.Verify(info.PublicKey, digest) {
		return false
	}
	sigHash := xcrypto.Hash(info.Signature.Bytes())
	want := new(big.Int).SetBytes(sigHash[:])
	return want.Cmp(info.Priority) == 0
}

// SelectProposer returns the position in infos of the lowest-priority
// (winning) PriorityInfo; on equal priorities the earlier entry wins. It
// does not verify the bundles, and it returns an error when infos is
// empty.
func SelectProposer(infos []PriorityInfo) (int, error) {
	if len(infos) == 0 {
		return -1, fmt.Errorf("tendermint: no priority info supplied")
	}
	best := 0
	for i := 1; i < len(infos); i++ {
		if infos[i].Priority.Cmp(infos[best].Priority) < 0 {
			best = i
		}
	}
	return best, nil
}
