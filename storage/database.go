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

package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/mysql"
	"github.com/pkg/errors"

	"github.com/genesis-dao/daosync/log"
)

var logger = log.NewModuleLogger(log.Storage)

// DBInsertRetryInterval is how long bulk writers wait before retrying a
// deadlocked insert.
const DBInsertRetryInterval = 500 * time.Millisecond

const mysqlDuplicateEntry = 1062

// Database is the gorm-backed Repository.
type Database struct {
	db *gorm.DB
}

// Open connects to MySQL with the given DSN.
func Open(dsn string) (*Database, error) {
	db, err := gorm.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open database")
	}
	db.DB().SetMaxOpenConns(16)
	db.DB().SetMaxIdleConns(4)
	db.DB().SetConnMaxLifetime(time.Hour)
	return &Database{db: db}, nil
}

// NewDatabase wraps an existing gorm handle. Used by tests and by
// transaction-bound repositories.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Migrate creates or updates the schema. Callers serialize this across
// processes with the shared lock in the cache package.
func (d *Database) Migrate() error {
	if err := d.db.AutoMigrate(allModels()...).Error; err != nil {
		return errors.Wrap(err, "auto migration failed")
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Transaction runs fn inside one serializable transaction.
func (d *Database) Transaction(fn func(Repository) error) error {
	tx := d.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if tx.Error != nil {
		return errors.Wrap(tx.Error, "cannot begin transaction")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&Database{db: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit().Error; err != nil {
		return errors.Wrap(err, "cannot commit transaction")
	}
	return nil
}

// isDuplicateEntry recognizes unique-constraint violations.
func isDuplicateEntry(err error) bool {
	if err == nil {
		return false
	}
	if mysqlErr, ok := err.(*mysql.MySQLError); ok {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}

func noRecord(err error) error {
	if gorm.IsRecordNotFoundError(err) {
		return nil
	}
	return err
}

// Block envelopes.

func (d *Database) BlockByNumber(number int64) (*Block, error) {
	var block Block
	if err := d.db.Where("number = ?", number).First(&block).Error; err != nil {
		return nil, noRecord(err)
	}
	return &block, nil
}

func (d *Database) BlockByHash(hash string) (*Block, error) {
	var block Block
	if err := d.db.Where("hash = ?", hash).First(&block).Error; err != nil {
		return nil, noRecord(err)
	}
	return &block, nil
}

func (d *Database) LatestExecutedBlock() (*Block, error) {
	var block Block
	if err := d.db.Where("executed = ?", true).Order("number desc").First(&block).Error; err != nil {
		return nil, noRecord(err)
	}
	return &block, nil
}

func (d *Database) CreateBlock(block *Block) error {
	if err := d.db.Create(block).Error; err != nil {
		if isDuplicateEntry(err) {
			// Same number, different hash: the chain rewrote history under
			// us, or we are talking to a different chain.
			return errors.Wrapf(ErrDivergence, "block %d (%s): %v", block.Number, block.Hash, err)
		}
		return errors.Wrapf(err, "cannot create block %d", block.Number)
	}
	return nil
}

// ReplaceBlock deletes whatever occupies the block's height and inserts the
// new envelope. Callers wrap it in a transaction when atomicity matters.
func (d *Database) ReplaceBlock(block *Block) error {
	if err := d.db.Where("number = ?", block.Number).Delete(&Block{}).Error; err != nil {
		return errors.Wrapf(err, "cannot delete block %d", block.Number)
	}
	return d.CreateBlock(block)
}

func (d *Database) MarkExecuted(hash string) error {
	err := d.db.Model(&Block{}).Where("hash = ? AND executed = ?", hash, false).
		Update("executed", true).Error
	return errors.Wrapf(err, "cannot mark block %s executed", hash)
}

// Accounts.

func (d *Database) UpsertAccounts(addresses []string) error {
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		for {
			err := d.db.Where(Account{Address: addr}).FirstOrCreate(&Account{Address: addr}).Error
			if err == nil || isDuplicateEntry(err) {
				break
			}
			if isDeadlock(err) {
				logger.Warn("Deadlock while upserting account, retrying", "address", addr)
				time.Sleep(DBInsertRetryInterval)
				continue
			}
			return errors.Wrapf(err, "cannot upsert account %s", addr)
		}
	}
	return nil
}

func isDeadlock(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Deadlock found")
}

func (d *Database) CountAccounts() (int64, error) {
	var count int64
	if err := d.db.Model(&Account{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "cannot count accounts")
	}
	return count, nil
}

// DAOs.

func (d *Database) CreateDaos(daos []*Dao) error {
	for _, dao := range daos {
		if err := d.db.Create(dao).Error; err != nil {
			return errors.Wrapf(err, "cannot create dao %s", dao.ID)
		}
	}
	return nil
}

func (d *Database) DaoByID(id string) (*Dao, error) {
	var dao Dao
	if err := d.db.Where("id = ?", id).First(&dao).Error; err != nil {
		return nil, noRecord(err)
	}
	return &dao, nil
}

func (d *Database) ListDaos() ([]*Dao, error) {
	var daos []*Dao
	if err := d.db.Order("id").Find(&daos).Error; err != nil {
		return nil, errors.Wrap(err, "cannot list daos")
	}
	return daos, nil
}

func (d *Database) SaveDao(dao *Dao) error {
	return errors.Wrapf(d.db.Save(dao).Error, "cannot save dao %s", dao.ID)
}

// DeleteDao removes a DAO and everything hanging off it.
func (d *Database) DeleteDao(id string) error {
	var asset Asset
	hasAsset := true
	if err := d.db.Where("dao_id = ?", id).First(&asset).Error; err != nil {
		if !gorm.IsRecordNotFoundError(err) {
			return errors.Wrapf(err, "cannot load asset of dao %s", id)
		}
		hasAsset = false
	}

	if hasAsset {
		if err := d.db.Where("asset_id = ?", asset.ID).Delete(&AssetHolding{}).Error; err != nil {
			return errors.Wrapf(err, "cannot delete holdings of dao %s", id)
		}
		if err := d.db.Delete(&asset).Error; err != nil {
			return errors.Wrapf(err, "cannot delete asset of dao %s", id)
		}
	}

	var proposalIDs []string
	if err := d.db.Model(&Proposal{}).Where("dao_id = ?", id).Pluck("id", &proposalIDs).Error; err != nil {
		return errors.Wrapf(err, "cannot list proposals of dao %s", id)
	}
	if len(proposalIDs) > 0 {
		if err := d.db.Where("proposal_id IN (?)", proposalIDs).Delete(&Vote{}).Error; err != nil {
			return errors.Wrapf(err, "cannot delete votes of dao %s", id)
		}
		if err := d.db.Where("dao_id = ?", id).Delete(&Proposal{}).Error; err != nil {
			return errors.Wrapf(err, "cannot delete proposals of dao %s", id)
		}
	}

	if err := d.db.Where("dao_id = ?", id).Delete(&Governance{}).Error; err != nil {
		return errors.Wrapf(err, "cannot delete governance of dao %s", id)
	}
	if err := d.db.Model(&MultiSig{}).Where("dao_id = ?", id).
		Updates(map[string]interface{}{"dao_id": nil}).Error; err != nil {
		return errors.Wrapf(err, "cannot unlink multisigs of dao %s", id)
	}
	if err := d.db.Where("id = ?", id).Delete(&Dao{}).Error; err != nil {
		return errors.Wrapf(err, "cannot delete dao %s", id)
	}
	return nil
}

func (d *Database) SetDaoMetadata(id, url, hash string) error {
	err := d.db.Model(&Dao{}).Where("id = ?", id).
		Updates(map[string]interface{}{"metadata_url": url, "metadata_hash": hash}).Error
	return errors.Wrapf(err, "cannot set metadata of dao %s", id)
}

func (d *Database) StoreDaoMetadata(id string, metadata JSONObject) error {
	err := d.db.Model(&Dao{}).Where("id = ?", id).Update("metadata", metadata).Error
	return errors.Wrapf(err, "cannot store metadata of dao %s", id)
}

// MultiSig accounts.

func (d *Database) MultiSigsByAddresses(addresses []string) ([]*MultiSig, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	var multisigs []*MultiSig
	if err := d.db.Where("address IN (?)", addresses).Find(&multisigs).Error; err != nil {
		return nil, errors.Wrap(err, "cannot load multisigs")
	}
	return multisigs, nil
}

func (d *Database) UpsertMultiSig(ms *MultiSig) error {
	err := d.db.Where(MultiSig{Address: ms.Address}).FirstOrCreate(ms).Error
	if err != nil && !isDuplicateEntry(err) {
		return errors.Wrapf(err, "cannot upsert multisig %s", ms.Address)
	}
	return nil
}

func (d *Database) SaveMultiSig(ms *MultiSig) error {
	return errors.Wrapf(d.db.Save(ms).Error, "cannot save multisig %s", ms.Address)
}

// Assets and holdings.

func (d *Database) CreateAssets(assets []*Asset) error {
	for _, asset := range assets {
		if err := d.db.Create(asset).Error; err != nil {
			return errors.Wrapf(err, "cannot create asset %d", asset.ID)
		}
	}
	return nil
}

func (d *Database) AssetByDao(daoID string) (*Asset, error) {
	var asset Asset
	if err := d.db.Where("dao_id = ?", daoID).First(&asset).Error; err != nil {
		return nil, noRecord(err)
	}
	return &asset, nil
}

func (d *Database) CreateHoldings(holdings []*AssetHolding) error {
	for _, holding := range holdings {
		if err := d.db.Create(holding).Error; err != nil {
			return errors.Wrapf(err, "cannot create holding (%d, %s)", holding.AssetID, holding.OwnerID)
		}
	}
	return nil
}

func (d *Database) SaveHoldings(holdings []*AssetHolding) error {
	for _, holding := range holdings {
		if err := d.db.Save(holding).Error; err != nil {
			return errors.Wrapf(err, "cannot save holding (%d, %s)", holding.AssetID, holding.OwnerID)
		}
	}
	return nil
}

// HoldingsByKeys loads every holding matching one of the (asset, owner)
// pairs. The superset is fetched in one round trip and filtered here; gorm
// v1 has no tuple IN.
func (d *Database) HoldingsByKeys(keys []HoldingKey) ([]*AssetHolding, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	assetIDs := make([]int64, 0, len(keys))
	owners := make([]string, 0, len(keys))
	wanted := make(map[HoldingKey]bool, len(keys))
	for _, key := range keys {
		assetIDs = append(assetIDs, key.AssetID)
		owners = append(owners, key.OwnerID)
		wanted[key] = true
	}

	var superset []*AssetHolding
	if err := d.db.Where("asset_id IN (?) AND owner_id IN (?)", assetIDs, owners).
		Find(&superset).Error; err != nil {
		return nil, errors.Wrap(err, "cannot load holdings")
	}

	holdings := superset[:0]
	for _, holding := range superset {
		if wanted[HoldingKey{AssetID: holding.AssetID, OwnerID: holding.OwnerID}] {
			holdings = append(holdings, holding)
		}
	}
	return holdings, nil
}

func (d *Database) HoldingsByAsset(assetID int64) ([]*AssetHolding, error) {
	var holdings []*AssetHolding
	if err := d.db.Where("asset_id = ?", assetID).Order("id").Find(&holdings).Error; err != nil {
		return nil, errors.Wrapf(err, "cannot load holdings of asset %d", assetID)
	}
	return holdings, nil
}

func (d *Database) SetDelegate(assetID int64, owner, delegate string) error {
	err := d.db.Model(&AssetHolding{}).
		Where("asset_id = ? AND owner_id = ?", assetID, owner).
		Update("delegated_to", delegate).Error
	return errors.Wrapf(err, "cannot delegate holding (%d, %s)", assetID, owner)
}

func (d *Database) RevokeDelegate(assetID int64, owner, delegatedTo string) error {
	err := d.db.Model(&AssetHolding{}).
		Where("asset_id = ? AND owner_id = ? AND delegated_to = ?", assetID, owner, delegatedTo).
		Updates(map[string]interface{}{"delegated_to": nil}).Error
	return errors.Wrapf(err, "cannot revoke delegation of holding (%d, %s)", assetID, owner)
}

// Governance.

func (d *Database) ReplaceGovernance(gov *Governance) error {
	if err := d.db.Where("dao_id = ?", gov.DaoID).Delete(&Governance{}).Error; err != nil {
		return errors.Wrapf(err, "cannot delete governance of dao %s", gov.DaoID)
	}
	return errors.Wrapf(d.db.Create(gov).Error, "cannot create governance of dao %s", gov.DaoID)
}

func (d *Database) GovernanceByDao(daoID string) (*Governance, error) {
	var gov Governance
	if err := d.db.Where("dao_id = ?", daoID).First(&gov).Error; err != nil {
		return nil, noRecord(err)
	}
	return &gov, nil
}

// Proposals and votes.

func (d *Database) CreateProposals(proposals []*Proposal) error {
	for _, proposal := range proposals {
		if err := d.db.Create(proposal).Error; err != nil {
			return errors.Wrapf(err, "cannot create proposal %s", proposal.ID)
		}
	}
	return nil
}

func (d *Database) ProposalByID(id string) (*Proposal, error) {
	var proposal Proposal
	if err := d.db.Where("id = ?", id).First(&proposal).Error; err != nil {
		return nil, noRecord(err)
	}
	return &proposal, nil
}

func (d *Database) ListProposals(daoID string) ([]*Proposal, error) {
	var proposals []*Proposal
	if err := d.db.Where("dao_id = ?", daoID).Order("birth_block_number").Find(&proposals).Error; err != nil {
		return nil, errors.Wrapf(err, "cannot list proposals of dao %s", daoID)
	}
	return proposals, nil
}

func (d *Database) SaveProposal(proposal *Proposal) error {
	return errors.Wrapf(d.db.Save(proposal).Error, "cannot save proposal %s", proposal.ID)
}

func (d *Database) SetProposalMetadata(id, url, hash string) error {
	err := d.db.Model(&Proposal{}).Where("id = ?", id).
		Updates(map[string]interface{}{"metadata_url": url, "metadata_hash": hash, "setup_complete": true}).Error
	return errors.Wrapf(err, "cannot set metadata of proposal %s", id)
}

func (d *Database) StoreProposalMetadata(id string, metadata JSONObject, title string) error {
	err := d.db.Model(&Proposal{}).Where("id = ?", id).
		Updates(map[string]interface{}{"metadata": metadata, "title": title}).Error
	return errors.Wrapf(err, "cannot store metadata of proposal %s", id)
}

func (d *Database) CreateVotes(votes []*Vote) error {
	for _, vote := range votes {
		if err := d.db.Create(vote).Error; err != nil {
			return errors.Wrapf(err, "cannot create vote (%s, %s)", vote.ProposalID, vote.VoterID)
		}
	}
	return nil
}

func (d *Database) VoteByProposalAndVoter(proposalID, voterID string) (*Vote, error) {
	var vote Vote
	if err := d.db.Where("proposal_id = ? AND voter_id = ?", proposalID, voterID).First(&vote).Error; err != nil {
		return nil, noRecord(err)
	}
	return &vote, nil
}

func (d *Database) SaveVote(vote *Vote) error {
	return errors.Wrapf(d.db.Save(vote).Error, "cannot save vote (%s, %s)", vote.ProposalID, vote.VoterID)
}

// Multisig transactions.

// PendingMultiSigTx returns the newest non-executed transaction for the
// (address, call hash) pair.
func (d *Database) PendingMultiSigTx(address, callHash string) (*MultiSigTransaction, error) {
	var tx MultiSigTransaction
	err := d.db.Where("multi_sig_address = ? AND call_hash = ? AND status <> ?",
		address, callHash, TransactionExecuted).
		Order("id desc").First(&tx).Error
	if err != nil {
		return nil, noRecord(err)
	}
	return &tx, nil
}

func (d *Database) CreateMultiSigTx(tx *MultiSigTransaction) error {
	return errors.Wrapf(d.db.Create(tx).Error,
		"cannot create multisig transaction (%s, %s)", tx.MultiSigAddress, tx.CallHash)
}

func (d *Database) SaveMultiSigTx(tx *MultiSigTransaction) error {
	return errors.Wrapf(d.db.Save(tx).Error,
		"cannot save multisig transaction (%s, %s)", tx.MultiSigAddress, tx.CallHash)
}

// ClearAll truncates the projection and the block store.
func (d *Database) ClearAll() error {
	logger.Warn("Clearing the whole projection")
	for _, model := range []interface{}{
		&Vote{}, &Proposal{}, &Governance{}, &AssetHolding{}, &Asset{},
		&MultiSigTransaction{}, &MultiSig{}, &Dao{}, &Account{}, &Block{},
	} {
		if err := d.db.Delete(model).Error; err != nil {
			return errors.Wrap(err, "cannot clear projection")
		}
	}
	return nil
}
