package fetcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genesis-dao/daosync/chain"
	"github.com/genesis-dao/daosync/storage"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubHasher struct {
	hash string
	err  error
}

func (s *stubHasher) ComputeMultisigCallHash(string, string, chain.Args) (string, error) {
	return s.hash, s.err
}

func testPipeline(hash string) *Pipeline {
	p := NewPipeline(&stubHasher{hash: hash})
	p.now = func() time.Time { return testTime }
	return p
}

func testBlock(number int64, ext, ev chain.GroupedCalls) *storage.Block {
	return &storage.Block{
		Hash:          fmt.Sprintf("0xb%04d", number),
		Number:        number,
		ExtrinsicData: storage.GroupedJSON(ext),
		EventData:     storage.GroupedJSON(ev),
	}
}

func TestApplyCreatesAccountsAndDaos(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	ext := chain.GroupedCalls{}
	ext.Add("DaoCore", "create_dao", chain.Args{"dao_id": "DAO1", "dao_name": "Genesis"})
	ev := chain.GroupedCalls{}
	ev.Add("System", "NewAccount", chain.Args{"account": "alice"})
	ev.Add("DaoCore", "DaoCreated", chain.Args{"dao_id": "DAO1", "owner": "alice"})

	block := testBlock(1, ext, ev)
	_, err := p.Apply(repo, block)
	require.NoError(t, err)

	assert.True(t, block.Executed)
	assert.True(t, repo.accounts["alice"])

	dao := repo.daos["DAO1"]
	require.NotNil(t, dao)
	assert.Equal(t, "Genesis", dao.Name)
	assert.Equal(t, "alice", dao.CreatorID)
	assert.Equal(t, "alice", dao.OwnerID)
	assert.False(t, dao.SetupComplete)
}

func TestApplySkipsCreateDaoWithoutEvent(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	// The extrinsic made it into the block but the runtime emitted no
	// DaoCreated event; nothing must be projected.
	ext := chain.GroupedCalls{}
	ext.Add("DaoCore", "create_dao", chain.Args{"dao_id": "DAO1", "dao_name": "Genesis"})

	block := testBlock(1, ext, nil)
	_, err := p.Apply(repo, block)
	require.NoError(t, err)

	assert.True(t, block.Executed)
	assert.Empty(t, repo.daos)
	assert.Empty(t, repo.accounts)
}

func TestApplySkipsExecutedBlock(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("System", "NewAccount", chain.Args{"account": "alice"})
	block := testBlock(1, nil, ev)
	block.Executed = true

	res, err := p.Apply(repo, block)
	require.NoError(t, err)
	assert.Empty(t, res.DaoMetadata)
	assert.Empty(t, repo.accounts)
}

func TestApplyRollsBackOnStageFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.failOn = "CreateHoldings"
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("System", "NewAccount", chain.Args{"account": "alice"})
	ev.Add("Assets", "Issued", chain.Args{"asset_id": 1, "owner": "alice", "total_supply": 100})
	ev.Add("Assets", "MetadataSet", chain.Args{"asset_id": 1, "symbol": "DAO1"})

	block := testBlock(1, nil, ev)
	_, err := p.Apply(repo, block)
	require.Error(t, err)
	assert.True(t, IsParseBlock(err))

	// The whole block rolled back, earlier stages included.
	assert.False(t, block.Executed)
	assert.Empty(t, repo.accounts)
	assert.Empty(t, repo.assets)
}

func TestApplyIssuesAsset(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("Assets", "Issued", chain.Args{"asset_id": 1, "owner": "alice", "total_supply": 100})
	ev.Add("Assets", "MetadataSet", chain.Args{"asset_id": 1, "symbol": "DAO1"})

	_, err := p.Apply(repo, testBlock(1, nil, ev))
	require.NoError(t, err)

	asset := repo.assets[1]
	require.NotNil(t, asset)
	assert.Equal(t, uint64(100), asset.TotalSupply)
	assert.Equal(t, "alice", asset.OwnerID)
	assert.Equal(t, "DAO1", asset.DaoID)

	holding := repo.holding(1, "alice")
	require.NotNil(t, holding)
	assert.Equal(t, uint64(100), holding.Balance)
	assert.True(t, repo.accounts["alice"])
}

func TestApplyDropsIssuedWithoutMetadata(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("Assets", "Issued", chain.Args{"asset_id": 1, "owner": "alice", "total_supply": 100})

	_, err := p.Apply(repo, testBlock(1, nil, ev))
	require.NoError(t, err)
	assert.Empty(t, repo.assets)
	assert.Empty(t, repo.holdings)
}

func TestApplyTransfersAssetsInEventOrder(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	issue := chain.GroupedCalls{}
	issue.Add("Assets", "Issued", chain.Args{"asset_id": 1, "owner": "alice", "total_supply": 100})
	issue.Add("Assets", "MetadataSet", chain.Args{"asset_id": 1, "symbol": "DAO1"})
	_, err := p.Apply(repo, testBlock(1, nil, issue))
	require.NoError(t, err)

	// Chained transfers in one block: bob receives before passing on.
	ev := chain.GroupedCalls{}
	ev.Add("Assets", "Transferred", chain.Args{"asset_id": 1, "from": "alice", "to": "bob", "amount": 40})
	ev.Add("Assets", "Transferred", chain.Args{"asset_id": 1, "from": "bob", "to": "carol", "amount": 10})
	_, err = p.Apply(repo, testBlock(2, nil, ev))
	require.NoError(t, err)

	assert.Equal(t, uint64(60), repo.holding(1, "alice").Balance)
	assert.Equal(t, uint64(30), repo.holding(1, "bob").Balance)
	assert.Equal(t, uint64(10), repo.holding(1, "carol").Balance)
	assert.True(t, repo.accounts["bob"])
	assert.True(t, repo.accounts["carol"])
}

func TestApplySkipsTransferFromUnknownHolding(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("Assets", "Transferred", chain.Args{"asset_id": 9, "from": "ghost", "to": "bob", "amount": 5})
	_, err := p.Apply(repo, testBlock(1, nil, ev))
	require.NoError(t, err)
	assert.Empty(t, repo.holdings)
}

func TestApplyDelegationLifecycle(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	issue := chain.GroupedCalls{}
	issue.Add("Assets", "Issued", chain.Args{"asset_id": 1, "owner": "alice", "total_supply": 100})
	issue.Add("Assets", "MetadataSet", chain.Args{"asset_id": 1, "symbol": "DAO1"})
	_, err := p.Apply(repo, testBlock(1, nil, issue))
	require.NoError(t, err)

	delegate := chain.GroupedCalls{}
	delegate.Add("Assets", "Delegated", chain.Args{"asset_id": 1, "from": "alice", "to": "bob"})
	_, err = p.Apply(repo, testBlock(2, nil, delegate))
	require.NoError(t, err)
	require.NotNil(t, repo.holding(1, "alice").DelegatedTo)
	assert.Equal(t, "bob", *repo.holding(1, "alice").DelegatedTo)

	// Revocation naming someone else leaves the delegation alone.
	wrong := chain.GroupedCalls{}
	wrong.Add("Assets", "DelegationRevoked", chain.Args{"asset_id": 1, "delegated_by": "alice", "revoked_from": "carol"})
	_, err = p.Apply(repo, testBlock(3, nil, wrong))
	require.NoError(t, err)
	require.NotNil(t, repo.holding(1, "alice").DelegatedTo)

	revoke := chain.GroupedCalls{}
	revoke.Add("Assets", "DelegationRevoked", chain.Args{"asset_id": 1, "delegated_by": "alice", "revoked_from": "bob"})
	_, err = p.Apply(repo, testBlock(4, nil, revoke))
	require.NoError(t, err)
	assert.Nil(t, repo.holding(1, "alice").DelegatedTo)
}

func TestApplySetsDaoMetadataAndQueuesDownload(t *testing.T) {
	repo := newFakeRepo()
	repo.daos["DAO1"] = &storage.Dao{ID: "DAO1", Name: "Genesis"}
	p := testPipeline("")

	ext := chain.GroupedCalls{}
	ext.Add("DaoCore", "set_metadata", chain.Args{"dao_id": "DAO1", "meta": "https://meta.example/dao1.json", "hash": "0xdead"})
	ev := chain.GroupedCalls{}
	ev.Add("DaoCore", "DaoMetadataSet", chain.Args{"dao_id": "DAO1"})

	res, err := p.Apply(repo, testBlock(1, ext, ev))
	require.NoError(t, err)

	assert.Equal(t, "https://meta.example/dao1.json", repo.daos["DAO1"].MetadataURL)
	assert.Equal(t, "0xdead", repo.daos["DAO1"].MetadataHash)
	require.Len(t, res.DaoMetadata, 1)
	assert.Equal(t, "DAO1", res.DaoMetadata[0].ID)
	assert.Equal(t, "0xdead", res.DaoMetadata[0].Hash)
}

func TestApplyReplacesGovernance(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("Votes", "SetGovernanceMajorityVote", chain.Args{
		"dao_id":                    "DAO1",
		"proposal_duration":         14400,
		"proposal_token_deposit":    100,
		"minimum_majority_per_1024": 512,
	})
	_, err := p.Apply(repo, testBlock(1, nil, ev))
	require.NoError(t, err)

	gov := repo.govs["DAO1"]
	require.NotNil(t, gov)
	assert.Equal(t, int64(14400), gov.ProposalDuration)
	assert.Equal(t, uint64(100), gov.ProposalTokenDeposit)
	assert.Equal(t, int64(512), gov.MinimumMajority)
	assert.Equal(t, storage.GovernanceMajorityVote, gov.Type)
}

func TestApplySnapshotsVotingPowerWithDelegations(t *testing.T) {
	repo := newFakeRepo()
	delegate := "carol"
	repo.daos["DAO1"] = &storage.Dao{ID: "DAO1"}
	repo.assets[1] = &storage.Asset{ID: 1, DaoID: "DAO1", TotalSupply: 100}
	repo.holdings = []*storage.AssetHolding{
		{ID: 1, AssetID: 1, OwnerID: "alice", Balance: 30, DelegatedTo: &delegate},
		{ID: 2, AssetID: 1, OwnerID: "bob", Balance: 70},
		{ID: 3, AssetID: 1, OwnerID: "carol", Balance: 0},
	}
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("Votes", "ProposalCreated", chain.Args{"proposal_id": "P1", "dao_id": "DAO1", "creator": "alice"})
	_, err := p.Apply(repo, testBlock(5, nil, ev))
	require.NoError(t, err)

	proposal := repo.proposals["P1"]
	require.NotNil(t, proposal)
	assert.Equal(t, storage.ProposalRunning, proposal.Status)
	assert.Equal(t, int64(5), proposal.BirthBlockNumber)

	// Alice delegated to carol, so carol carries both stakes and alice has
	// no ballot of her own.
	votes := repo.votesFor("P1")
	require.Len(t, votes, 2)
	assert.Equal(t, "carol", votes[0].VoterID)
	assert.Equal(t, uint64(30), votes[0].VotingPower)
	assert.Nil(t, votes[0].InFavor)
	assert.Equal(t, "bob", votes[1].VoterID)
	assert.Equal(t, uint64(70), votes[1].VotingPower)

	none, err := repo.VoteByProposalAndVoter("P1", "alice")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestApplyRegistersCastVotes(t *testing.T) {
	repo := newFakeRepo()
	repo.proposals["P1"] = &storage.Proposal{ID: "P1", DaoID: "DAO1", Status: storage.ProposalRunning}
	repo.votes = []*storage.Vote{{ID: 1, ProposalID: "P1", VoterID: "bob", VotingPower: 70}}
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("Votes", "VoteCast", chain.Args{"proposal_id": "P1", "voter": "bob", "in_favor": true})
	ev.Add("Votes", "VoteCast", chain.Args{"proposal_id": "P1", "voter": "stranger", "in_favor": false})
	_, err := p.Apply(repo, testBlock(6, nil, ev))
	require.NoError(t, err)

	vote, err := repo.VoteByProposalAndVoter("P1", "bob")
	require.NoError(t, err)
	require.NotNil(t, vote.InFavor)
	assert.True(t, *vote.InFavor)

	// The stranger had no snapshot row and stays without one.
	assert.Len(t, repo.votes, 1)
}

func TestApplyFinalizesAndFaultsProposals(t *testing.T) {
	repo := newFakeRepo()
	repo.proposals["P1"] = &storage.Proposal{ID: "P1", Status: storage.ProposalRunning}
	repo.proposals["P2"] = &storage.Proposal{ID: "P2", Status: storage.ProposalRunning}
	repo.proposals["P3"] = &storage.Proposal{ID: "P3", Status: storage.ProposalRunning}
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("Votes", "ProposalAccepted", chain.Args{"proposal_id": "P1"})
	ev.Add("Votes", "ProposalRejected", chain.Args{"proposal_id": "P2"})
	ev.Add("Votes", "ProposalFaulted", chain.Args{"proposal_id": "P3", "reason": "metadata unreachable"})
	_, err := p.Apply(repo, testBlock(7, nil, ev))
	require.NoError(t, err)

	assert.Equal(t, storage.ProposalPending, repo.proposals["P1"].Status)
	assert.Equal(t, storage.ProposalRejected, repo.proposals["P2"].Status)
	assert.Equal(t, storage.ProposalFaulted, repo.proposals["P3"].Status)
	assert.Equal(t, "metadata unreachable", repo.proposals["P3"].Fault)
}

func TestApplyDeletesDaoCascade(t *testing.T) {
	repo := newFakeRepo()
	daoID := "DAO1"
	repo.daos[daoID] = &storage.Dao{ID: daoID}
	repo.assets[1] = &storage.Asset{ID: 1, DaoID: daoID}
	repo.holdings = []*storage.AssetHolding{{ID: 1, AssetID: 1, OwnerID: "alice", Balance: 10}}
	repo.govs[daoID] = &storage.Governance{DaoID: daoID}
	repo.proposals["P1"] = &storage.Proposal{ID: "P1", DaoID: daoID}
	repo.votes = []*storage.Vote{{ID: 1, ProposalID: "P1", VoterID: "alice"}}
	repo.multisigs["ms1"] = &storage.MultiSig{Address: "ms1", DaoID: &daoID}
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("DaoCore", "DaoDestroyed", chain.Args{"dao_id": daoID})
	_, err := p.Apply(repo, testBlock(8, nil, ev))
	require.NoError(t, err)

	assert.Empty(t, repo.daos)
	assert.Empty(t, repo.assets)
	assert.Empty(t, repo.holdings)
	assert.Empty(t, repo.govs)
	assert.Empty(t, repo.proposals)
	assert.Empty(t, repo.votes)
	// The multisig account survives, unlinked.
	require.NotNil(t, repo.multisigs["ms1"])
	assert.Nil(t, repo.multisigs["ms1"].DaoID)
}

func TestApplyTransfersDaoOwnershipToMultisig(t *testing.T) {
	repo := newFakeRepo()
	repo.daos["DAO1"] = &storage.Dao{ID: "DAO1", OwnerID: "alice", CreatorID: "alice"}
	repo.multisigs["msaddr"] = &storage.MultiSig{Address: "msaddr"}
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("DaoCore", "DaoOwnerChanged", chain.Args{"dao_id": "DAO1", "new_owner": "msaddr"})
	_, err := p.Apply(repo, testBlock(9, nil, ev))
	require.NoError(t, err)

	dao := repo.daos["DAO1"]
	assert.Equal(t, "msaddr", dao.OwnerID)
	assert.Equal(t, "alice", dao.CreatorID)
	assert.True(t, dao.SetupComplete)
	assert.True(t, repo.accounts["msaddr"])
	require.NotNil(t, repo.multisigs["msaddr"].DaoID)
	assert.Equal(t, "DAO1", *repo.multisigs["msaddr"].DaoID)
}

func TestApplyMultisigLifecycle(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("0xc0ffee")

	open := chain.GroupedCalls{}
	open.Add("Multisig", "NewMultisig", chain.Args{
		"call_hash": "0xc0ffee", "multisig": "msaddr", "approving": "alice",
	})
	_, err := p.Apply(repo, testBlock(1, nil, open))
	require.NoError(t, err)

	require.Len(t, repo.msTxs, 1)
	tx := repo.msTxs[0]
	assert.Equal(t, storage.TransactionPending, tx.Status)
	assert.Equal(t, storage.StringList{"alice"}, tx.Approvers)
	assert.True(t, repo.accounts["msaddr"])
	require.NotNil(t, repo.multisigs["msaddr"])
	assert.Nil(t, repo.multisigs["msaddr"].Threshold)

	approve := chain.GroupedCalls{}
	approve.Add("Multisig", "MultisigApproval", chain.Args{
		"call_hash": "0xc0ffee", "multisig": "msaddr", "approving": "bob",
	})
	_, err = p.Apply(repo, testBlock(2, nil, approve))
	require.NoError(t, err)
	assert.Equal(t, storage.StringList{"alice", "bob"}, repo.msTxs[0].Approvers)

	ext := chain.GroupedCalls{}
	ext.Add("Multisig", "as_multi", chain.Args{
		"threshold": 2,
		"call": map[string]interface{}{
			"call_module":   "DaoCore",
			"call_function": "destroy_dao",
			"call_args": []interface{}{
				map[string]interface{}{"name": "dao_id", "value": "DAO1"},
			},
		},
	})
	execute := chain.GroupedCalls{}
	execute.Add("Multisig", "MultisigExecuted", chain.Args{
		"call_hash": "0xc0ffee", "multisig": "msaddr", "approving": "carol",
		"timepoint": map[string]interface{}{"height": 3, "index": 1},
	})
	_, err = p.Apply(repo, testBlock(3, ext, execute))
	require.NoError(t, err)

	tx = repo.msTxs[0]
	assert.Equal(t, storage.TransactionExecuted, tx.Status)
	assert.Equal(t, storage.StringList{"alice", "bob", "carol"}, tx.Approvers)
	assert.Equal(t, "destroy_dao", tx.CallFunction)
	require.NotNil(t, tx.DaoID)
	assert.Equal(t, "DAO1", *tx.DaoID)
	require.NotNil(t, tx.ExecutedAt)
	assert.Equal(t, testTime, *tx.ExecutedAt)
	require.NotNil(t, tx.Timepoint)

	require.NotNil(t, repo.multisigs["msaddr"].Threshold)
	assert.Equal(t, 2, *repo.multisigs["msaddr"].Threshold)
}

func TestApplyMultisigLifecycleInSingleBlock(t *testing.T) {
	repo := newFakeRepo()
	p := testPipeline("0xc0ffee")

	// Open, approval and execution all land in one block; the execution
	// stage must see the transaction the earlier stages just wrote.
	ext := chain.GroupedCalls{}
	ext.Add("Multisig", "as_multi", chain.Args{
		"threshold": 2,
		"call": map[string]interface{}{
			"call_module":   "DaoCore",
			"call_function": "destroy_dao",
			"call_args": []interface{}{
				map[string]interface{}{"name": "dao_id", "value": "DAO1"},
			},
		},
	})
	ev := chain.GroupedCalls{}
	ev.Add("Multisig", "NewMultisig", chain.Args{
		"call_hash": "0xc0ffee", "multisig": "msaddr", "approving": "alice",
	})
	ev.Add("Multisig", "MultisigApproval", chain.Args{
		"call_hash": "0xc0ffee", "multisig": "msaddr", "approving": "bob",
	})
	ev.Add("Multisig", "MultisigExecuted", chain.Args{
		"call_hash": "0xc0ffee", "multisig": "msaddr", "approving": "carol",
		"timepoint": map[string]interface{}{"height": 1, "index": 1},
	})

	_, err := p.Apply(repo, testBlock(1, ext, ev))
	require.NoError(t, err)

	require.Len(t, repo.msTxs, 1)
	tx := repo.msTxs[0]
	assert.Equal(t, storage.TransactionExecuted, tx.Status)
	assert.Equal(t, storage.StringList{"alice", "bob", "carol"}, tx.Approvers)
	assert.Equal(t, "destroy_dao", tx.CallFunction)
	require.NotNil(t, tx.DaoID)
	assert.Equal(t, "DAO1", *tx.DaoID)
	require.NotNil(t, tx.ExecutedAt)

	require.NotNil(t, repo.multisigs["msaddr"])
	require.NotNil(t, repo.multisigs["msaddr"].Threshold)
	assert.Equal(t, 2, *repo.multisigs["msaddr"].Threshold)
}

func TestApplyIgnoresExecutionWithDifferentCallHash(t *testing.T) {
	repo := newFakeRepo()
	repo.msTxs = []*storage.MultiSigTransaction{{
		ID: 1, MultiSigAddress: "msaddr", CallHash: "0xaaaa",
		Approvers: storage.StringList{"alice"}, Status: storage.TransactionPending,
	}}
	p := testPipeline("0xbbbb") // hash of the extrinsic call does not match

	ext := chain.GroupedCalls{}
	ext.Add("Multisig", "as_multi", chain.Args{
		"threshold": 2,
		"call": map[string]interface{}{
			"call_module":   "DaoCore",
			"call_function": "destroy_dao",
			"call_args":     []interface{}{},
		},
	})
	ev := chain.GroupedCalls{}
	ev.Add("Multisig", "MultisigExecuted", chain.Args{
		"call_hash": "0xaaaa", "multisig": "msaddr", "approving": "bob",
	})
	_, err := p.Apply(repo, testBlock(4, ext, ev))
	require.NoError(t, err)

	// No matching extrinsic means the transaction stays pending.
	assert.Equal(t, storage.TransactionPending, repo.msTxs[0].Status)
	assert.Equal(t, storage.StringList{"alice"}, repo.msTxs[0].Approvers)
}

func TestApplyCancelsMultisigTransaction(t *testing.T) {
	repo := newFakeRepo()
	repo.msTxs = []*storage.MultiSigTransaction{{
		ID: 1, MultiSigAddress: "msaddr", CallHash: "0xaaaa",
		Approvers: storage.StringList{"alice"}, Status: storage.TransactionPending,
	}}
	p := testPipeline("")

	ev := chain.GroupedCalls{}
	ev.Add("Multisig", "MultisigCancelled", chain.Args{
		"call_hash": "0xaaaa", "multisig": "msaddr", "cancelling": "alice",
	})
	_, err := p.Apply(repo, testBlock(5, nil, ev))
	require.NoError(t, err)

	tx := repo.msTxs[0]
	assert.Equal(t, storage.TransactionCancelled, tx.Status)
	require.NotNil(t, tx.CanceledBy)
	assert.Equal(t, "alice", *tx.CanceledBy)
}

func TestApplySetsProposalMetadata(t *testing.T) {
	repo := newFakeRepo()
	repo.proposals["P1"] = &storage.Proposal{ID: "P1", Status: storage.ProposalRunning}
	p := testPipeline("")

	ext := chain.GroupedCalls{}
	ext.Add("Votes", "set_metadata", chain.Args{"proposal_id": "P1", "meta": "https://meta.example/p1.json", "hash": "0xbeef"})
	ev := chain.GroupedCalls{}
	ev.Add("Votes", "ProposalMetadataSet", chain.Args{"proposal_id": "P1"})

	res, err := p.Apply(repo, testBlock(6, ext, ev))
	require.NoError(t, err)

	proposal := repo.proposals["P1"]
	assert.Equal(t, "https://meta.example/p1.json", proposal.MetadataURL)
	assert.Equal(t, "0xbeef", proposal.MetadataHash)
	assert.True(t, proposal.SetupComplete)
	require.Len(t, res.ProposalMetadata, 1)
	assert.Equal(t, "P1", res.ProposalMetadata[0].ID)
}
