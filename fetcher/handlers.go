// Copyright 2024 The daosync Authors
// This file is part of the daosync library.
//
// The daosync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The daosync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the daosync library. If not, see <http://www.gnu.org/licenses/>.

package fetcher

import (
	"time"

	"github.com/genesis-dao/daosync/chain"
	"github.com/genesis-dao/daosync/event"
	"github.com/genesis-dao/daosync/log"
	"github.com/genesis-dao/daosync/storage"
)

// CallHasher computes the hash under which a multisig call is announced.
type CallHasher interface {
	ComputeMultisigCallHash(module, function string, args chain.Args) (string, error)
}

// Pipeline applies one block's state changes to the projection inside a
// single transaction. Stage order is a contract: later stages read rows
// earlier stages created within the same block.
type Pipeline struct {
	hasher CallHasher
	logger log.Logger
	now    func() time.Time
}

func NewPipeline(hasher CallHasher) *Pipeline {
	return &Pipeline{
		hasher: hasher,
		logger: log.NewModuleLogger(log.Fetcher),
		now:    time.Now,
	}
}

// Result carries the post-commit work of an applied block: metadata
// downloads are dispatched to the broker outside the transaction.
type Result struct {
	DaoMetadata      []*event.MetadataTask
	ProposalMetadata []*event.MetadataTask
}

// run is the per-block stage context.
type run struct {
	p     *Pipeline
	repo  storage.Repository
	block *storage.Block
	res   *Result
}

type stage struct {
	name string
	fn   func(*run) error
}

// stages is the fixed, ordered handler sequence. Do not reorder: stage 12
// reads holdings written by stages 6 and 7, stage 19 reads transactions
// written by 17 and 18, and so on.
var stages = []stage{
	{"instantiate_contracts", (*run).instantiateContracts},
	{"create_accounts", (*run).createAccounts},
	{"create_daos", (*run).createDaos},
	{"transfer_dao_ownerships", (*run).transferDaoOwnerships},
	{"delete_daos", (*run).deleteDaos},
	{"create_assets", (*run).createAssets},
	{"transfer_assets", (*run).transferAssets},
	{"delegate_assets", (*run).delegateAssets},
	{"revoke_delegations", (*run).revokeDelegations},
	{"set_dao_metadata", (*run).setDaoMetadata},
	{"set_dao_governances", (*run).setDaoGovernances},
	{"create_proposals", (*run).createProposals},
	{"set_proposal_metadata", (*run).setProposalMetadata},
	{"register_votes", (*run).registerVotes},
	{"finalize_proposals", (*run).finalizeProposals},
	{"fault_proposals", (*run).faultProposals},
	{"handle_new_multisig_transactions", (*run).handleNewMultiSigTransactions},
	{"approve_multisig_transactions", (*run).approveMultiSigTransactions},
	{"execute_multisig_transactions", (*run).executeMultiSigTransactions},
	{"cancel_multisig_transactions", (*run).cancelMultiSigTransactions},
}

// Apply runs every stage against block inside one transaction and marks the
// block executed before committing. Re-applying an executed block is a
// no-op. Any stage failure rolls the whole block back and surfaces as a
// ParseBlockError.
func (p *Pipeline) Apply(repo storage.Repository, block *storage.Block) (*Result, error) {
	if block.Executed {
		return &Result{}, nil
	}

	r := &run{p: p, block: block, res: &Result{}}
	err := repo.Transaction(func(tx storage.Repository) error {
		r.repo = tx
		for _, s := range stages {
			if err := s.fn(r); err != nil {
				p.logger.Error("Stage failed", "stage", s.name, "number", block.Number, "err", err)
				return err
			}
		}
		return tx.MarkExecuted(block.Hash)
	})
	if err != nil {
		pipelineFailureCounter.Inc()
		return nil, &ParseBlockError{Number: block.Number, Err: err}
	}

	block.Executed = true
	return r.res, nil
}

// Stage 1: contract events are a passive hook; they only reach the log
// until a contract projection exists.
func (r *run) instantiateContracts() error {
	for _, attrs := range r.block.Events("Contracts", "ContractEmitted") {
		r.p.logger.Info("Contract event emitted", "number", r.block.Number, "attributes", attrs)
	}
	return nil
}

// Stage 2: every System.NewAccount becomes an Account row; duplicates are
// ignored.
func (r *run) createAccounts() error {
	var addresses []string
	for _, attrs := range r.block.Events("System", "NewAccount") {
		if addr, ok := attrString(attrs, "account"); ok {
			addresses = append(addresses, addr)
		}
	}
	if len(addresses) == 0 {
		return nil
	}
	return r.repo.UpsertAccounts(addresses)
}

// Stage 3: pair create_dao extrinsics with DaoCreated events on dao_id,
// first match wins. Extrinsics without a matching event are skipped.
func (r *run) createDaos() error {
	events := r.block.Events("DaoCore", "DaoCreated")
	var daos []*storage.Dao
	var owners []string
	for _, args := range r.block.Extrinsics("DaoCore", "create_dao") {
		daoID, ok := attrString(args, "dao_id")
		if !ok {
			continue
		}
		name, _ := attrString(args, "dao_name", "name")
		for _, attrs := range events {
			eventDaoID, ok := attrString(attrs, "dao_id")
			if !ok || eventDaoID != daoID {
				continue
			}
			owner, _ := attrString(attrs, "owner")
			daos = append(daos, &storage.Dao{
				ID:        daoID,
				Name:      name,
				CreatorID: owner,
				OwnerID:   owner,
			})
			owners = append(owners, owner)
			break
		}
	}
	if len(daos) == 0 {
		return nil
	}
	if err := r.repo.UpsertAccounts(owners); err != nil {
		return err
	}
	return r.repo.CreateDaos(daos)
}

// Stage 4: DaoOwnerChanged transfers ownership and completes setup. New
// owners get Account rows (they may be multisig addresses that never saw
// System.NewAccount), and existing MultiSig rows are linked to the DAO.
func (r *run) transferDaoOwnerships() error {
	events := r.block.Events("DaoCore", "DaoOwnerChanged")
	if len(events) == 0 {
		return nil
	}

	daoByOwner := map[string]string{}
	var newOwners []string
	for _, attrs := range events {
		daoID, ok := attrString(attrs, "dao_id")
		if !ok {
			continue
		}
		newOwner, ok := attrString(attrs, "new_owner")
		if !ok {
			continue
		}
		newOwners = append(newOwners, newOwner)
		daoByOwner[newOwner] = daoID
	}
	if err := r.repo.UpsertAccounts(newOwners); err != nil {
		return err
	}

	for _, attrs := range events {
		daoID, _ := attrString(attrs, "dao_id")
		newOwner, _ := attrString(attrs, "new_owner")
		if daoID == "" || newOwner == "" {
			continue
		}
		dao, err := r.repo.DaoByID(daoID)
		if err != nil {
			return err
		}
		if dao == nil {
			r.p.logger.Warn("Owner change for unknown dao", "dao", daoID, "number", r.block.Number)
			continue
		}
		dao.OwnerID = newOwner
		dao.SetupComplete = true
		if err := r.repo.SaveDao(dao); err != nil {
			return err
		}
	}

	multisigs, err := r.repo.MultiSigsByAddresses(newOwners)
	if err != nil {
		return err
	}
	for _, ms := range multisigs {
		daoID := daoByOwner[ms.Address]
		ms.DaoID = &daoID
		if err := r.repo.SaveMultiSig(ms); err != nil {
			return err
		}
	}
	return nil
}

// Stage 5: DaoDestroyed cascades.
func (r *run) deleteDaos() error {
	for _, attrs := range r.block.Events("DaoCore", "DaoDestroyed") {
		daoID, ok := attrString(attrs, "dao_id")
		if !ok {
			continue
		}
		if err := r.repo.DeleteDao(daoID); err != nil {
			return err
		}
	}
	return nil
}

// Stage 6: pair Assets.Issued with Assets.MetadataSet on asset_id (first
// match wins); the MetadataSet symbol carries the DAO id. The issuer gets
// the initial holding over the full supply. Issued events without metadata
// in the same block are dropped.
func (r *run) createAssets() error {
	metadataSet := r.block.Events("Assets", "MetadataSet")
	var assets []*storage.Asset
	var holdings []*storage.AssetHolding
	var owners []string
	for _, attrs := range r.block.Events("Assets", "Issued") {
		assetID, ok := attrInt64(attrs, "asset_id")
		if !ok {
			continue
		}
		owner, ok := attrString(attrs, "owner")
		if !ok {
			continue
		}
		supply, _ := attrUint64(attrs, "total_supply")

		matched := false
		var daoID string
		for _, meta := range metadataSet {
			metaAssetID, ok := attrInt64(meta, "asset_id")
			if !ok || metaAssetID != assetID {
				continue
			}
			daoID, _ = attrString(meta, "symbol")
			matched = true
			break
		}
		if !matched {
			r.p.logger.Warn("Issued asset without metadata in block, dropping",
				"asset", assetID, "number", r.block.Number)
			continue
		}

		assets = append(assets, &storage.Asset{
			ID:          assetID,
			TotalSupply: supply,
			OwnerID:     owner,
			DaoID:       daoID,
		})
		holdings = append(holdings, &storage.AssetHolding{
			AssetID: assetID,
			OwnerID: owner,
			Balance: supply,
		})
		owners = append(owners, owner)
	}
	if len(assets) == 0 {
		return nil
	}
	if err := r.repo.UpsertAccounts(owners); err != nil {
		return err
	}
	if err := r.repo.CreateAssets(assets); err != nil {
		return err
	}
	return r.repo.CreateHoldings(holdings)
}

type transfer struct {
	assetID int64
	amount  uint64
	from    string
	to      string
}

// Stage 7: apply Assets.Transferred in event order. All referenced holdings
// are loaded in one round trip, mutated in memory, then written back in
// bulk. Receivers unseen before this block get fresh rows.
func (r *run) transferAssets() error {
	events := r.block.Events("Assets", "Transferred")
	if len(events) == 0 {
		return nil
	}

	var transfers []transfer
	var keys []storage.HoldingKey
	seen := map[storage.HoldingKey]bool{}
	for _, attrs := range events {
		assetID, okID := attrInt64(attrs, "asset_id")
		amount, okAmount := attrUint64(attrs, "amount")
		from, okFrom := attrString(attrs, "from")
		to, okTo := attrString(attrs, "to")
		if !okID || !okAmount || !okFrom || !okTo {
			r.p.logger.Warn("Malformed transfer event", "number", r.block.Number, "attributes", attrs)
			continue
		}
		transfers = append(transfers, transfer{assetID: assetID, amount: amount, from: from, to: to})
		for _, owner := range []string{from, to} {
			key := storage.HoldingKey{AssetID: assetID, OwnerID: owner}
			if !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	if len(transfers) == 0 {
		return nil
	}

	existing, err := r.repo.HoldingsByKeys(keys)
	if err != nil {
		return err
	}
	loaded := map[storage.HoldingKey]*storage.AssetHolding{}
	for _, holding := range existing {
		loaded[storage.HoldingKey{AssetID: holding.AssetID, OwnerID: holding.OwnerID}] = holding
	}

	// created preserves insertion order so CreateHoldings stays stable.
	created := map[storage.HoldingKey]*storage.AssetHolding{}
	var createdOrder []*storage.AssetHolding
	touched := map[storage.HoldingKey]*storage.AssetHolding{}
	var newOwners []string

	for _, t := range transfers {
		fromKey := storage.HoldingKey{AssetID: t.assetID, OwnerID: t.from}
		sender := created[fromKey]
		if sender == nil {
			sender = loaded[fromKey]
		}
		if sender == nil {
			// A transfer from a holding we have never seen. The chain
			// guarantees this cannot happen; skip instead of wedging the
			// block forever.
			r.p.logger.Warn("Transfer from unknown holding, skipping",
				"asset", t.assetID, "from", t.from, "number", r.block.Number)
			continue
		}
		sender.Balance -= t.amount
		if created[fromKey] == nil {
			touched[fromKey] = sender
		}

		toKey := storage.HoldingKey{AssetID: t.assetID, OwnerID: t.to}
		switch {
		case created[toKey] != nil:
			created[toKey].Balance += t.amount
		case loaded[toKey] != nil:
			loaded[toKey].Balance += t.amount
			touched[toKey] = loaded[toKey]
		default:
			holding := &storage.AssetHolding{AssetID: t.assetID, OwnerID: t.to, Balance: t.amount}
			created[toKey] = holding
			createdOrder = append(createdOrder, holding)
			newOwners = append(newOwners, t.to)
		}
	}

	var updates []*storage.AssetHolding
	for _, key := range keys {
		if holding := touched[key]; holding != nil {
			updates = append(updates, holding)
		}
	}
	if err := r.repo.SaveHoldings(updates); err != nil {
		return err
	}
	if len(createdOrder) > 0 {
		if err := r.repo.UpsertAccounts(newOwners); err != nil {
			return err
		}
		if err := r.repo.CreateHoldings(createdOrder); err != nil {
			return err
		}
	}
	return nil
}

// Stage 8: Assets.Delegated sets the delegation target on a holding.
func (r *run) delegateAssets() error {
	for _, attrs := range r.block.Events("Assets", "Delegated") {
		assetID, okID := attrInt64(attrs, "asset_id")
		from, okFrom := attrString(attrs, "from")
		to, okTo := attrString(attrs, "to")
		if !okID || !okFrom || !okTo {
			continue
		}
		if err := r.repo.SetDelegate(assetID, from, to); err != nil {
			return err
		}
	}
	return nil
}

// Stage 9: Assets.DelegationRevoked clears the target, but only where it
// still points at the revoked delegate.
func (r *run) revokeDelegations() error {
	for _, attrs := range r.block.Events("Assets", "DelegationRevoked") {
		assetID, okID := attrInt64(attrs, "asset_id")
		delegatedBy, okBy := attrString(attrs, "delegated_by")
		revokedFrom, okFrom := attrString(attrs, "revoked_from")
		if !okID || !okBy || !okFrom {
			continue
		}
		if err := r.repo.RevokeDelegate(assetID, delegatedBy, revokedFrom); err != nil {
			return err
		}
	}
	return nil
}

// Stage 10: join DaoMetadataSet events with set_metadata extrinsics on
// dao_id, record (url, hash) and queue the asynchronous download.
func (r *run) setDaoMetadata() error {
	extrinsics := r.block.Extrinsics("DaoCore", "set_metadata")
	for _, attrs := range r.block.Events("DaoCore", "DaoMetadataSet") {
		daoID, ok := attrString(attrs, "dao_id")
		if !ok {
			continue
		}
		for _, args := range extrinsics {
			extDaoID, ok := attrString(args, "dao_id")
			if !ok || extDaoID != daoID {
				continue
			}
			url, _ := attrString(args, "meta", "url")
			hash, _ := attrString(args, "hash")
			if err := r.repo.SetDaoMetadata(daoID, url, hash); err != nil {
				return err
			}
			r.res.DaoMetadata = append(r.res.DaoMetadata,
				&event.MetadataTask{ID: daoID, URL: url, Hash: hash})
			break
		}
	}
	return nil
}

// Stage 11: SetGovernanceMajorityVote replaces the DAO's governance row.
func (r *run) setDaoGovernances() error {
	for _, attrs := range r.block.Events("Votes", "SetGovernanceMajorityVote") {
		daoID, ok := attrString(attrs, "dao_id")
		if !ok {
			continue
		}
		duration, _ := attrInt64(attrs, "proposal_duration")
		deposit, _ := attrUint64(attrs, "proposal_token_deposit")
		majority, _ := attrInt64(attrs, "minimum_majority_per_1024", "minimum_majority")
		gov := &storage.Governance{
			DaoID:                daoID,
			ProposalDuration:     duration,
			ProposalTokenDeposit: deposit,
			MinimumMajority:      majority,
			Type:                 storage.GovernanceMajorityVote,
		}
		if err := r.repo.ReplaceGovernance(gov); err != nil {
			return err
		}
	}
	return nil
}

// Stage 12: ProposalCreated inserts the proposal and pre-creates one Vote
// row per effective voter, snapshotting voting power from the DAO's current
// holdings. A holding's balance is credited to delegated_to when set, else
// to the owner.
func (r *run) createProposals() error {
	events := r.block.Events("Votes", "ProposalCreated")
	if len(events) == 0 {
		return nil
	}

	var proposals []*storage.Proposal
	var creators []string
	daoIDs := map[string]bool{}
	for _, attrs := range events {
		proposalID, okID := attrString(attrs, "proposal_id")
		daoID, okDao := attrString(attrs, "dao_id")
		if !okID || !okDao {
			continue
		}
		creator, _ := attrString(attrs, "creator")
		proposals = append(proposals, &storage.Proposal{
			ID:               proposalID,
			DaoID:            daoID,
			CreatorID:        creator,
			BirthBlockNumber: r.block.Number,
			Status:           storage.ProposalRunning,
		})
		creators = append(creators, creator)
		daoIDs[daoID] = true
	}
	if len(proposals) == 0 {
		return nil
	}
	if err := r.repo.UpsertAccounts(creators); err != nil {
		return err
	}
	if err := r.repo.CreateProposals(proposals); err != nil {
		return err
	}

	// Snapshot the effective voter map per DAO once; several proposals in
	// one block share it.
	type snapshot struct {
		voters []string
		power  map[string]uint64
	}
	snapshots := map[string]*snapshot{}
	for daoID := range daoIDs {
		asset, err := r.repo.AssetByDao(daoID)
		if err != nil {
			return err
		}
		if asset == nil {
			r.p.logger.Warn("Proposal for dao without asset", "dao", daoID, "number", r.block.Number)
			continue
		}
		holdings, err := r.repo.HoldingsByAsset(asset.ID)
		if err != nil {
			return err
		}
		snap := &snapshot{power: map[string]uint64{}}
		for _, holding := range holdings {
			voter := holding.OwnerID
			if holding.DelegatedTo != nil && *holding.DelegatedTo != "" {
				voter = *holding.DelegatedTo
			}
			if _, ok := snap.power[voter]; !ok {
				snap.voters = append(snap.voters, voter)
			}
			snap.power[voter] += holding.Balance
		}
		snapshots[daoID] = snap
	}

	var votes []*storage.Vote
	for _, proposal := range proposals {
		snap := snapshots[proposal.DaoID]
		if snap == nil {
			continue
		}
		for _, voter := range snap.voters {
			votes = append(votes, &storage.Vote{
				ProposalID:  proposal.ID,
				VoterID:     voter,
				VotingPower: snap.power[voter],
			})
		}
	}
	if len(votes) == 0 {
		return nil
	}
	return r.repo.CreateVotes(votes)
}

// Stage 13: join ProposalMetadataSet events with set_metadata extrinsics on
// proposal_id, record (url, hash), flag setup complete and queue the
// download.
func (r *run) setProposalMetadata() error {
	extrinsics := r.block.Extrinsics("Votes", "set_metadata")
	for _, attrs := range r.block.Events("Votes", "ProposalMetadataSet") {
		proposalID, ok := attrString(attrs, "proposal_id")
		if !ok {
			continue
		}
		for _, args := range extrinsics {
			extProposalID, ok := attrString(args, "proposal_id")
			if !ok || extProposalID != proposalID {
				continue
			}
			url, _ := attrString(args, "meta", "url")
			hash, _ := attrString(args, "hash")
			if err := r.repo.SetProposalMetadata(proposalID, url, hash); err != nil {
				return err
			}
			r.res.ProposalMetadata = append(r.res.ProposalMetadata,
				&event.MetadataTask{ID: proposalID, URL: url, Hash: hash})
			break
		}
	}
	return nil
}

// Stage 14: VoteCast fills in the pre-created ballot.
func (r *run) registerVotes() error {
	for _, attrs := range r.block.Events("Votes", "VoteCast") {
		proposalID, okID := attrString(attrs, "proposal_id")
		voter, okVoter := attrString(attrs, "voter")
		if !okID || !okVoter {
			continue
		}
		inFavor, okFavor := attrBool(attrs, "in_favor")

		vote, err := r.repo.VoteByProposalAndVoter(proposalID, voter)
		if err != nil {
			return err
		}
		if vote == nil {
			r.p.logger.Warn("Vote cast without snapshot row",
				"proposal", proposalID, "voter", voter, "number", r.block.Number)
			continue
		}
		if okFavor {
			vote.InFavor = &inFavor
		} else {
			vote.InFavor = nil
		}
		if err := r.repo.SaveVote(vote); err != nil {
			return err
		}
	}
	return nil
}

// Stage 15: ProposalAccepted moves to PENDING, ProposalRejected to REJECTED.
func (r *run) finalizeProposals() error {
	finalize := func(eventName string, status storage.ProposalStatus) error {
		for _, attrs := range r.block.Events("Votes", eventName) {
			proposalID, ok := attrString(attrs, "proposal_id")
			if !ok {
				continue
			}
			proposal, err := r.repo.ProposalByID(proposalID)
			if err != nil {
				return err
			}
			if proposal == nil {
				r.p.logger.Warn("Finalize for unknown proposal", "proposal", proposalID, "number", r.block.Number)
				continue
			}
			proposal.Status = status
			if err := r.repo.SaveProposal(proposal); err != nil {
				return err
			}
		}
		return nil
	}
	if err := finalize("ProposalAccepted", storage.ProposalPending); err != nil {
		return err
	}
	return finalize("ProposalRejected", storage.ProposalRejected)
}

// Stage 16: ProposalFaulted records the fault reason.
func (r *run) faultProposals() error {
	for _, attrs := range r.block.Events("Votes", "ProposalFaulted") {
		proposalID, ok := attrString(attrs, "proposal_id")
		if !ok {
			continue
		}
		reason, _ := attrString(attrs, "reason")
		proposal, err := r.repo.ProposalByID(proposalID)
		if err != nil {
			return err
		}
		if proposal == nil {
			r.p.logger.Warn("Fault for unknown proposal", "proposal", proposalID, "number", r.block.Number)
			continue
		}
		proposal.Status = storage.ProposalFaulted
		proposal.Fault = reason
		if err := r.repo.SaveProposal(proposal); err != nil {
			return err
		}
	}
	return nil
}

// Stage 17: NewMultisig either extends an already pending transaction (the
// chain re-announces when approvals race) or opens a new one, creating the
// multisig account on first sight.
func (r *run) handleNewMultiSigTransactions() error {
	for _, attrs := range r.block.Events("Multisig", "NewMultisig") {
		callHash, okHash := attrString(attrs, "call_hash")
		multisig, okAddr := attrString(attrs, "multisig")
		approving, okApproving := attrString(attrs, "approving")
		if !okHash || !okAddr || !okApproving {
			continue
		}

		tx, err := r.repo.PendingMultiSigTx(multisig, callHash)
		if err != nil {
			return err
		}
		if tx != nil {
			tx.Approvers = append(tx.Approvers, approving)
			if err := r.repo.SaveMultiSigTx(tx); err != nil {
				return err
			}
			continue
		}

		if err := r.repo.UpsertAccounts([]string{multisig}); err != nil {
			return err
		}
		if err := r.repo.UpsertMultiSig(&storage.MultiSig{Address: multisig}); err != nil {
			return err
		}
		if err := r.repo.CreateMultiSigTx(&storage.MultiSigTransaction{
			MultiSigAddress: multisig,
			CallHash:        callHash,
			Approvers:       storage.StringList{approving},
			Status:          storage.TransactionPending,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Stage 18: MultisigApproval appends the approver to the pending
// transaction.
func (r *run) approveMultiSigTransactions() error {
	for _, attrs := range r.block.Events("Multisig", "MultisigApproval") {
		callHash, okHash := attrString(attrs, "call_hash")
		multisig, okAddr := attrString(attrs, "multisig")
		approving, okApproving := attrString(attrs, "approving")
		if !okHash || !okAddr || !okApproving {
			continue
		}
		tx, err := r.repo.PendingMultiSigTx(multisig, callHash)
		if err != nil {
			return err
		}
		if tx == nil {
			r.p.logger.Warn("Approval for unknown multisig transaction",
				"multisig", multisig, "call_hash", callHash, "number", r.block.Number)
			continue
		}
		tx.Approvers = append(tx.Approvers, approving)
		if err := r.repo.SaveMultiSigTx(tx); err != nil {
			return err
		}
	}
	return nil
}

// Stage 19: MultisigExecuted joins the as_multi extrinsics over the call
// hash to recover the dispatched call, resolves any entity ids from the
// call args and closes the transaction.
func (r *run) executeMultiSigTransactions() error {
	extrinsics := r.block.Extrinsics("Multisig", "as_multi")
	for _, attrs := range r.block.Events("Multisig", "MultisigExecuted") {
		callHash, okHash := attrString(attrs, "call_hash")
		multisig, okAddr := attrString(attrs, "multisig")
		approving, okApproving := attrString(attrs, "approving")
		if !okHash || !okAddr || !okApproving {
			continue
		}

		matched := false
		for _, args := range extrinsics {
			module, function, callArgs, ok := decodeCall(args["call"])
			if !ok {
				continue
			}
			computed, err := r.p.hasher.ComputeMultisigCallHash(module, function, callArgs)
			if err != nil {
				return err
			}
			if computed != callHash {
				continue
			}
			matched = true

			tx, err := r.repo.PendingMultiSigTx(multisig, callHash)
			if err != nil {
				return err
			}
			if tx == nil {
				r.p.logger.Warn("Execution for unknown multisig transaction",
					"multisig", multisig, "call_hash", callHash, "number", r.block.Number)
				break
			}

			tx.Call = storage.JSONObject{
				"module":   module,
				"function": function,
				"args":     map[string]interface{}(callArgs),
			}
			tx.CallFunction = function
			if timepoint, ok := attrMap(attrs, "timepoint"); ok {
				tx.Timepoint = storage.JSONObject(timepoint)
			}
			resolveCallEntities(tx, module, callArgs)
			tx.Approvers = append(tx.Approvers, approving)
			tx.Status = storage.TransactionExecuted
			executedAt := r.p.now()
			tx.ExecutedAt = &executedAt
			if err := r.repo.SaveMultiSigTx(tx); err != nil {
				return err
			}

			// The as_multi extrinsic is the only place the signing
			// threshold shows up.
			if threshold, ok := attrInt64(args, "threshold"); ok {
				if err := r.saveThreshold(multisig, int(threshold)); err != nil {
					return err
				}
			}
			break
		}
		if !matched {
			r.p.logger.Warn("MultisigExecuted without matching as_multi extrinsic",
				"multisig", multisig, "call_hash", callHash, "number", r.block.Number)
		}
	}
	return nil
}

func (r *run) saveThreshold(address string, threshold int) error {
	multisigs, err := r.repo.MultiSigsByAddresses([]string{address})
	if err != nil {
		return err
	}
	if len(multisigs) == 0 {
		return nil
	}
	ms := multisigs[0]
	ms.Threshold = &threshold
	return r.repo.SaveMultiSig(ms)
}

// Stage 20: MultisigCancelled records who pulled the plug.
func (r *run) cancelMultiSigTransactions() error {
	for _, attrs := range r.block.Events("Multisig", "MultisigCancelled") {
		callHash, okHash := attrString(attrs, "call_hash")
		multisig, okAddr := attrString(attrs, "multisig")
		cancelling, okCancelling := attrString(attrs, "cancelling")
		if !okHash || !okAddr || !okCancelling {
			continue
		}
		tx, err := r.repo.PendingMultiSigTx(multisig, callHash)
		if err != nil {
			return err
		}
		if tx == nil {
			r.p.logger.Warn("Cancellation for unknown multisig transaction",
				"multisig", multisig, "call_hash", callHash, "number", r.block.Number)
			continue
		}
		tx.CanceledBy = &cancelling
		tx.Status = storage.TransactionCancelled
		if err := r.repo.SaveMultiSigTx(tx); err != nil {
			return err
		}
	}
	return nil
}

// resolveCallEntities pulls asset/dao/proposal references out of the call
// arguments. The Assets pallet names its asset id either "id" or
// "asset_id" depending on the call.
func resolveCallEntities(tx *storage.MultiSigTransaction, module string, args chain.Args) {
	if module == "Assets" {
		if assetID, ok := attrInt64(args, "id", "asset_id"); ok {
			tx.AssetID = &assetID
		}
	} else if assetID, ok := attrInt64(args, "asset_id"); ok {
		tx.AssetID = &assetID
	}
	if daoID, ok := attrString(args, "dao_id"); ok {
		tx.DaoID = &daoID
	}
	if proposalID, ok := attrString(args, "proposal_id"); ok {
		tx.ProposalID = &proposalID
	}
}

// decodeCall unwraps the nested call payload of an as_multi extrinsic.
func decodeCall(v interface{}) (module, function string, args chain.Args, ok bool) {
	callMap, isMap := toArgs(v)
	if !isMap {
		return "", "", nil, false
	}
	module, _ = attrString(callMap, "call_module", "module")
	function, _ = attrString(callMap, "call_function", "function")
	if module == "" || function == "" {
		return "", "", nil, false
	}

	args = chain.Args{}
	switch rawArgs := callMap["call_args"].(type) {
	case []interface{}:
		for _, entry := range rawArgs {
			argMap, isMap := toArgs(entry)
			if !isMap {
				continue
			}
			name, _ := attrString(argMap, "name")
			if name != "" {
				args[name] = argMap["value"]
			}
		}
	case map[string]interface{}:
		for k, v := range rawArgs {
			args[k] = v
		}
	}
	return module, function, args, true
}
