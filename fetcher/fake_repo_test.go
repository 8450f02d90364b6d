package fetcher

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/genesis-dao/daosync/storage"
)

// fakeRepo is an in-memory storage.Repository used by the pipeline and loop
// tests. Transaction snapshots the whole state up front and restores it on
// error, mirroring the rollback behavior of the real database.
type fakeRepo struct {
	blocks    map[string]*storage.Block
	accounts  map[string]bool
	daos      map[string]*storage.Dao
	assets    map[int64]*storage.Asset
	holdings  []*storage.AssetHolding
	govs      map[string]*storage.Governance
	proposals map[string]*storage.Proposal
	votes     []*storage.Vote
	multisigs map[string]*storage.MultiSig
	msTxs     []*storage.MultiSigTransaction

	nextHoldingID uint64
	nextVoteID    uint64
	nextTxID      uint64

	// failOn makes the named method return an error, for rollback tests.
	failOn string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		blocks:    map[string]*storage.Block{},
		accounts:  map[string]bool{},
		daos:      map[string]*storage.Dao{},
		assets:    map[int64]*storage.Asset{},
		govs:      map[string]*storage.Governance{},
		proposals: map[string]*storage.Proposal{},
		multisigs: map[string]*storage.MultiSig{},
	}
}

func (f *fakeRepo) fail(method string) error {
	if f.failOn == method {
		return errors.Errorf("induced failure in %s", method)
	}
	return nil
}

func (f *fakeRepo) snapshot() *fakeRepo {
	c := newFakeRepo()
	c.nextHoldingID, c.nextVoteID, c.nextTxID = f.nextHoldingID, f.nextVoteID, f.nextTxID
	for k, v := range f.blocks {
		b := *v
		c.blocks[k] = &b
	}
	for k := range f.accounts {
		c.accounts[k] = true
	}
	for k, v := range f.daos {
		d := *v
		c.daos[k] = &d
	}
	for k, v := range f.assets {
		a := *v
		c.assets[k] = &a
	}
	for _, v := range f.holdings {
		h := *v
		c.holdings = append(c.holdings, &h)
	}
	for k, v := range f.govs {
		g := *v
		c.govs[k] = &g
	}
	for k, v := range f.proposals {
		p := *v
		c.proposals[k] = &p
	}
	for _, v := range f.votes {
		vt := *v
		c.votes = append(c.votes, &vt)
	}
	for k, v := range f.multisigs {
		m := *v
		c.multisigs[k] = &m
	}
	for _, v := range f.msTxs {
		t := *v
		t.Approvers = append(storage.StringList{}, v.Approvers...)
		c.msTxs = append(c.msTxs, &t)
	}
	return c
}

func (f *fakeRepo) restore(s *fakeRepo) {
	f.blocks, f.accounts, f.daos, f.assets = s.blocks, s.accounts, s.daos, s.assets
	f.holdings, f.govs, f.proposals, f.votes = s.holdings, s.govs, s.proposals, s.votes
	f.multisigs, f.msTxs = s.multisigs, s.msTxs
	f.nextHoldingID, f.nextVoteID, f.nextTxID = s.nextHoldingID, s.nextVoteID, s.nextTxID
}

func (f *fakeRepo) Transaction(fn func(storage.Repository) error) error {
	saved := f.snapshot()
	if err := fn(f); err != nil {
		f.restore(saved)
		return err
	}
	return nil
}

func (f *fakeRepo) BlockByNumber(number int64) (*storage.Block, error) {
	if err := f.fail("BlockByNumber"); err != nil {
		return nil, err
	}
	for _, b := range f.blocks {
		if b.Number == number {
			return b, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) BlockByHash(hash string) (*storage.Block, error) {
	return f.blocks[hash], nil
}

func (f *fakeRepo) LatestExecutedBlock() (*storage.Block, error) {
	var latest *storage.Block
	for _, b := range f.blocks {
		if b.Executed && (latest == nil || b.Number > latest.Number) {
			latest = b
		}
	}
	return latest, nil
}

func (f *fakeRepo) CreateBlock(block *storage.Block) error {
	for _, b := range f.blocks {
		if b.Number == block.Number && b.Hash != block.Hash {
			return storage.ErrDivergence
		}
	}
	f.blocks[block.Hash] = block
	return nil
}

func (f *fakeRepo) ReplaceBlock(block *storage.Block) error {
	for hash, b := range f.blocks {
		if b.Number == block.Number {
			delete(f.blocks, hash)
		}
	}
	f.blocks[block.Hash] = block
	return nil
}

func (f *fakeRepo) MarkExecuted(hash string) error {
	if err := f.fail("MarkExecuted"); err != nil {
		return err
	}
	if b := f.blocks[hash]; b != nil {
		b.Executed = true
	}
	return nil
}

func (f *fakeRepo) UpsertAccounts(addresses []string) error {
	if err := f.fail("UpsertAccounts"); err != nil {
		return err
	}
	for _, a := range addresses {
		f.accounts[a] = true
	}
	return nil
}

func (f *fakeRepo) CountAccounts() (int64, error) {
	return int64(len(f.accounts)), nil
}

func (f *fakeRepo) CreateDaos(daos []*storage.Dao) error {
	if err := f.fail("CreateDaos"); err != nil {
		return err
	}
	for _, d := range daos {
		f.daos[d.ID] = d
	}
	return nil
}

func (f *fakeRepo) DaoByID(id string) (*storage.Dao, error) {
	return f.daos[id], nil
}

func (f *fakeRepo) ListDaos() ([]*storage.Dao, error) {
	var out []*storage.Dao
	for _, d := range f.daos {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) SaveDao(dao *storage.Dao) error {
	f.daos[dao.ID] = dao
	return nil
}

func (f *fakeRepo) DeleteDao(id string) error {
	if asset, _ := f.AssetByDao(id); asset != nil {
		kept := f.holdings[:0]
		for _, h := range f.holdings {
			if h.AssetID != asset.ID {
				kept = append(kept, h)
			}
		}
		f.holdings = kept
		delete(f.assets, asset.ID)
	}
	for pid, p := range f.proposals {
		if p.DaoID != id {
			continue
		}
		keptVotes := f.votes[:0]
		for _, v := range f.votes {
			if v.ProposalID != pid {
				keptVotes = append(keptVotes, v)
			}
		}
		f.votes = keptVotes
		delete(f.proposals, pid)
	}
	delete(f.govs, id)
	for _, ms := range f.multisigs {
		if ms.DaoID != nil && *ms.DaoID == id {
			ms.DaoID = nil
		}
	}
	delete(f.daos, id)
	return nil
}

func (f *fakeRepo) SetDaoMetadata(id, url, hash string) error {
	if d := f.daos[id]; d != nil {
		d.MetadataURL = url
		d.MetadataHash = hash
	}
	return nil
}

func (f *fakeRepo) StoreDaoMetadata(id string, metadata storage.JSONObject) error {
	if d := f.daos[id]; d != nil {
		d.Metadata = metadata
	}
	return nil
}

func (f *fakeRepo) MultiSigsByAddresses(addresses []string) ([]*storage.MultiSig, error) {
	var out []*storage.MultiSig
	for _, a := range addresses {
		if ms := f.multisigs[a]; ms != nil {
			out = append(out, ms)
		}
	}
	return out, nil
}

func (f *fakeRepo) UpsertMultiSig(ms *storage.MultiSig) error {
	if _, ok := f.multisigs[ms.Address]; !ok {
		f.multisigs[ms.Address] = ms
	}
	return nil
}

func (f *fakeRepo) SaveMultiSig(ms *storage.MultiSig) error {
	f.multisigs[ms.Address] = ms
	return nil
}

func (f *fakeRepo) CreateAssets(assets []*storage.Asset) error {
	for _, a := range assets {
		f.assets[a.ID] = a
	}
	return nil
}

func (f *fakeRepo) AssetByDao(daoID string) (*storage.Asset, error) {
	for _, a := range f.assets {
		if a.DaoID == daoID {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CreateHoldings(holdings []*storage.AssetHolding) error {
	if err := f.fail("CreateHoldings"); err != nil {
		return err
	}
	for _, h := range holdings {
		f.nextHoldingID++
		h.ID = f.nextHoldingID
		f.holdings = append(f.holdings, h)
	}
	return nil
}

func (f *fakeRepo) SaveHoldings(holdings []*storage.AssetHolding) error {
	if err := f.fail("SaveHoldings"); err != nil {
		return err
	}
	for _, h := range holdings {
		for i, existing := range f.holdings {
			if existing.ID == h.ID {
				f.holdings[i] = h
			}
		}
	}
	return nil
}

func (f *fakeRepo) HoldingsByKeys(keys []storage.HoldingKey) ([]*storage.AssetHolding, error) {
	want := map[storage.HoldingKey]bool{}
	for _, k := range keys {
		want[k] = true
	}
	var out []*storage.AssetHolding
	for _, h := range f.holdings {
		if want[storage.HoldingKey{AssetID: h.AssetID, OwnerID: h.OwnerID}] {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeRepo) HoldingsByAsset(assetID int64) ([]*storage.AssetHolding, error) {
	var out []*storage.AssetHolding
	for _, h := range f.holdings {
		if h.AssetID == assetID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeRepo) SetDelegate(assetID int64, owner, delegate string) error {
	for _, h := range f.holdings {
		if h.AssetID == assetID && h.OwnerID == owner {
			d := delegate
			h.DelegatedTo = &d
		}
	}
	return nil
}

func (f *fakeRepo) RevokeDelegate(assetID int64, owner, delegatedTo string) error {
	for _, h := range f.holdings {
		if h.AssetID == assetID && h.OwnerID == owner &&
			h.DelegatedTo != nil && *h.DelegatedTo == delegatedTo {
			h.DelegatedTo = nil
		}
	}
	return nil
}

func (f *fakeRepo) ReplaceGovernance(gov *storage.Governance) error {
	f.govs[gov.DaoID] = gov
	return nil
}

func (f *fakeRepo) GovernanceByDao(daoID string) (*storage.Governance, error) {
	return f.govs[daoID], nil
}

func (f *fakeRepo) CreateProposals(proposals []*storage.Proposal) error {
	for _, p := range proposals {
		f.proposals[p.ID] = p
	}
	return nil
}

func (f *fakeRepo) ProposalByID(id string) (*storage.Proposal, error) {
	return f.proposals[id], nil
}

func (f *fakeRepo) ListProposals(daoID string) ([]*storage.Proposal, error) {
	var out []*storage.Proposal
	for _, p := range f.proposals {
		if p.DaoID == daoID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRepo) SaveProposal(proposal *storage.Proposal) error {
	f.proposals[proposal.ID] = proposal
	return nil
}

func (f *fakeRepo) SetProposalMetadata(id, url, hash string) error {
	if p := f.proposals[id]; p != nil {
		p.MetadataURL = url
		p.MetadataHash = hash
		p.SetupComplete = true
	}
	return nil
}

func (f *fakeRepo) StoreProposalMetadata(id string, metadata storage.JSONObject, title string) error {
	if p := f.proposals[id]; p != nil {
		p.Metadata = metadata
		p.Title = title
	}
	return nil
}

func (f *fakeRepo) CreateVotes(votes []*storage.Vote) error {
	if err := f.fail("CreateVotes"); err != nil {
		return err
	}
	for _, v := range votes {
		f.nextVoteID++
		v.ID = f.nextVoteID
		f.votes = append(f.votes, v)
	}
	return nil
}

func (f *fakeRepo) VoteByProposalAndVoter(proposalID, voterID string) (*storage.Vote, error) {
	for _, v := range f.votes {
		if v.ProposalID == proposalID && v.VoterID == voterID {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) SaveVote(vote *storage.Vote) error {
	for i, v := range f.votes {
		if v.ID == vote.ID {
			f.votes[i] = vote
		}
	}
	return nil
}

func (f *fakeRepo) PendingMultiSigTx(address, callHash string) (*storage.MultiSigTransaction, error) {
	for i := len(f.msTxs) - 1; i >= 0; i-- {
		tx := f.msTxs[i]
		if tx.MultiSigAddress == address && tx.CallHash == callHash &&
			tx.Status != storage.TransactionExecuted {
			return tx, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) CreateMultiSigTx(tx *storage.MultiSigTransaction) error {
	f.nextTxID++
	tx.ID = f.nextTxID
	f.msTxs = append(f.msTxs, tx)
	return nil
}

func (f *fakeRepo) SaveMultiSigTx(tx *storage.MultiSigTransaction) error {
	for i, existing := range f.msTxs {
		if existing.ID == tx.ID {
			f.msTxs[i] = tx
		}
	}
	return nil
}

func (f *fakeRepo) ClearAll() error {
	*f = *newFakeRepo()
	return nil
}

// votesFor returns the votes of one proposal in insertion order.
func (f *fakeRepo) votesFor(proposalID string) []*storage.Vote {
	var out []*storage.Vote
	for _, v := range f.votes {
		if v.ProposalID == proposalID {
			out = append(out, v)
		}
	}
	return out
}

// holding returns the holding row for (assetID, owner), nil when absent.
func (f *fakeRepo) holding(assetID int64, owner string) *storage.AssetHolding {
	for _, h := range f.holdings {
		if h.AssetID == assetID && h.OwnerID == owner {
			return h
		}
	}
	return nil
}
