package storage

import "github.com/pkg/errors"

// ErrDivergence marks local state that cannot be reconciled with the chain:
// a second block arrived for an already occupied height with a different
// hash. The caller is expected to trigger a full resync.
var ErrDivergence = errors.New("chain/projection divergence detected")

// IsDivergence reports whether err (at any wrap depth) is a divergence.
func IsDivergence(err error) bool {
	for err != nil {
		if err == ErrDivergence {
			return true
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = cause.Cause()
	}
	return false
}

// HoldingKey identifies one (asset, owner) holding.
type HoldingKey struct {
	AssetID int64
	OwnerID string
}

// Repository is the persistence surface the ingestor runs against. Reads
// that find nothing return (nil, nil); bulk writes are expected to hit the
// database once per call. Implementations must make Transaction atomic: the
// pipeline relies on it to apply a whole block or nothing.
//
//go:generate mockgen -destination=./mocks/repository_mock.go -package=mocks github.com/genesis-dao/daosync/storage Repository
type Repository interface {
	// Transaction runs fn against a repository bound to one serializable
	// database transaction, committing on nil and rolling back on error.
	Transaction(fn func(Repository) error) error

	// Block envelopes.
	BlockByNumber(number int64) (*Block, error)
	BlockByHash(hash string) (*Block, error)
	LatestExecutedBlock() (*Block, error)
	CreateBlock(block *Block) error
	ReplaceBlock(block *Block) error
	MarkExecuted(hash string) error

	// Accounts.
	UpsertAccounts(addresses []string) error
	CountAccounts() (int64, error)

	// DAOs.
	CreateDaos(daos []*Dao) error
	DaoByID(id string) (*Dao, error)
	ListDaos() ([]*Dao, error)
	SaveDao(dao *Dao) error
	DeleteDao(id string) error
	SetDaoMetadata(id, url, hash string) error
	StoreDaoMetadata(id string, metadata JSONObject) error

	// MultiSig accounts.
	MultiSigsByAddresses(addresses []string) ([]*MultiSig, error)
	UpsertMultiSig(ms *MultiSig) error
	SaveMultiSig(ms *MultiSig) error

	// Assets and holdings.
	CreateAssets(assets []*Asset) error
	AssetByDao(daoID string) (*Asset, error)
	CreateHoldings(holdings []*AssetHolding) error
	SaveHoldings(holdings []*AssetHolding) error
	HoldingsByKeys(keys []HoldingKey) ([]*AssetHolding, error)
	HoldingsByAsset(assetID int64) ([]*AssetHolding, error)
	SetDelegate(assetID int64, owner, delegate string) error
	RevokeDelegate(assetID int64, owner, delegatedTo string) error

	// Governance.
	ReplaceGovernance(gov *Governance) error
	GovernanceByDao(daoID string) (*Governance, error)

	// Proposals and votes.
	CreateProposals(proposals []*Proposal) error
	ProposalByID(id string) (*Proposal, error)
	ListProposals(daoID string) ([]*Proposal, error)
	SaveProposal(proposal *Proposal) error
	SetProposalMetadata(id, url, hash string) error
	StoreProposalMetadata(id string, metadata JSONObject, title string) error
	CreateVotes(votes []*Vote) error
	VoteByProposalAndVoter(proposalID, voterID string) (*Vote, error)
	SaveVote(vote *Vote) error

	// Multisig transactions.
	PendingMultiSigTx(address, callHash string) (*MultiSigTransaction, error)
	CreateMultiSigTx(tx *MultiSigTransaction) error
	SaveMultiSigTx(tx *MultiSigTransaction) error

	// ClearAll truncates the whole projection, blocks included. Only the
	// resync controller calls this.
	ClearAll() error
}
