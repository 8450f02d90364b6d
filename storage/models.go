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

// Package storage persists the raw block envelopes and the materialized
// projection of the DAO pallets.
package storage

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/genesis-dao/daosync/chain"
)

// GovernanceType is the closed set of supported governance flavors.
type GovernanceType string

const (
	GovernanceMajorityVote GovernanceType = "MAJORITY_VOTE"
)

// ToGovernanceType converts a string into a GovernanceType, rejecting
// unknown values.
func ToGovernanceType(s string) (GovernanceType, error) {
	switch GovernanceType(s) {
	case GovernanceMajorityVote:
		return GovernanceMajorityVote, nil
	default:
		return "", errors.Errorf("unknown governance type %q", s)
	}
}

// ProposalStatus is the closed set of proposal lifecycle states.
type ProposalStatus string

const (
	ProposalRunning  ProposalStatus = "RUNNING"
	ProposalPending  ProposalStatus = "PENDING"
	ProposalRejected ProposalStatus = "REJECTED"
	ProposalFaulted  ProposalStatus = "FAULTED"
)

// ToProposalStatus converts a string into a ProposalStatus, rejecting
// unknown values.
func ToProposalStatus(s string) (ProposalStatus, error) {
	switch ProposalStatus(s) {
	case ProposalRunning, ProposalPending, ProposalRejected, ProposalFaulted:
		return ProposalStatus(s), nil
	default:
		return "", errors.Errorf("unknown proposal status %q", s)
	}
}

// TransactionStatus is the closed set of multisig transaction states.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionApproved  TransactionStatus = "APPROVED"
	TransactionCancelled TransactionStatus = "CANCELLED"
	TransactionExecuted  TransactionStatus = "EXECUTED"
)

// ToTransactionStatus converts a string into a TransactionStatus, rejecting
// unknown values.
func ToTransactionStatus(s string) (TransactionStatus, error) {
	switch TransactionStatus(s) {
	case TransactionPending, TransactionApproved, TransactionCancelled, TransactionExecuted:
		return TransactionStatus(s), nil
	default:
		return "", errors.Errorf("unknown transaction status %q", s)
	}
}

// JSONObject is a free-form JSON document stored in a text column.
type JSONObject map[string]interface{}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONObject) Scan(src interface{}) error {
	return scanJSON(src, j)
}

// GroupedJSON stores grouped extrinsic/event data in a text column.
type GroupedJSON chain.GroupedCalls

func (g GroupedJSON) Value() (driver.Value, error) {
	if g == nil {
		return nil, nil
	}
	return json.Marshal(g)
}

func (g *GroupedJSON) Scan(src interface{}) error {
	return scanJSON(src, g)
}

// StringList is an ordered list of strings stored as a JSON array. Order is
// load-bearing for multisig approver lists.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

func scanJSON(src, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return errors.Errorf("cannot scan %T into JSON column", src)
	}
}

// Account is a chain principal, keyed by its opaque address. Rows are also
// created lazily the first time an address shows up as a DAO owner, an asset
// owner or a multisig signatory.
type Account struct {
	Address   string `gorm:"primary_key;size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Dao is one on-chain DAO. OwnerID may differ from CreatorID after an
// ownership transfer.
type Dao struct {
	ID            string `gorm:"primary_key;size:128"`
	Name          string
	CreatorID     string `gorm:"size:128"`
	OwnerID       string `gorm:"size:128;index"`
	MetadataURL   string
	MetadataHash  string
	Metadata      JSONObject `gorm:"type:longtext"`
	SetupComplete bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Asset is the governance token of exactly one DAO.
type Asset struct {
	ID          int64  `gorm:"primary_key"`
	TotalSupply uint64 `gorm:"column:total_supply"`
	OwnerID     string `gorm:"size:128"`
	DaoID       string `gorm:"size:128;unique_index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AssetHolding is the balance of one owner in one asset, with an optional
// vote delegation target.
type AssetHolding struct {
	ID          uint64 `gorm:"primary_key;auto_increment"`
	AssetID     int64  `gorm:"unique_index:idx_asset_owner"`
	OwnerID     string `gorm:"size:128;unique_index:idx_asset_owner"`
	Balance     uint64
	DelegatedTo *string `gorm:"size:128"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Governance is the one-per-DAO voting configuration. Setting it again
// replaces the row wholesale.
type Governance struct {
	ID                   uint64 `gorm:"primary_key;auto_increment"`
	DaoID                string `gorm:"size:128;unique_index"`
	ProposalDuration     int64
	ProposalTokenDeposit uint64
	MinimumMajority      int64 // per 1024
	Type                 GovernanceType `gorm:"size:32"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Proposal is one governance proposal. Status starts RUNNING.
type Proposal struct {
	ID               string `gorm:"primary_key;size:128"`
	DaoID            string `gorm:"size:128;index"`
	CreatorID        string `gorm:"size:128"`
	BirthBlockNumber int64
	MetadataURL      string
	MetadataHash     string
	Metadata         JSONObject `gorm:"type:longtext"`
	Title            string
	Status           ProposalStatus `gorm:"size:16"`
	Fault            string
	SetupComplete    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Vote is the (pre-created) ballot of one voter on one proposal. InFavor is
// nil until the voter casts.
type Vote struct {
	ID          uint64 `gorm:"primary_key;auto_increment"`
	ProposalID  string `gorm:"size:128;unique_index:idx_proposal_voter"`
	VoterID     string `gorm:"size:128;unique_index:idx_proposal_voter"`
	VotingPower uint64
	InFavor     *bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MultiSig is an account acting as a multisig signatory for a DAO. The
// threshold is only learned from an as_multi extrinsic, so it stays nil
// until a transaction executes.
type MultiSig struct {
	Address   string  `gorm:"primary_key;size:128"`
	DaoID     *string `gorm:"size:128;index"`
	Threshold *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MultiSigTransaction tracks one pending multisig call. Only the newest
// non-executed row per (address, call hash) is a mutation target.
type MultiSigTransaction struct {
	ID              uint64 `gorm:"primary_key;auto_increment"`
	MultiSigAddress string `gorm:"size:128;index:idx_multisig_call"`
	CallHash        string `gorm:"size:80;index:idx_multisig_call"`
	Approvers       StringList `gorm:"type:longtext"`
	CanceledBy      *string    `gorm:"size:128"`
	Status          TransactionStatus `gorm:"size:16"`
	ExecutedAt      *time.Time
	Call            JSONObject `gorm:"type:longtext"`
	CallFunction    string
	Timepoint       JSONObject `gorm:"type:longtext"`
	AssetID         *int64
	DaoID           *string `gorm:"size:128"`
	ProposalID      *string `gorm:"size:128"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Block is the persisted envelope of one chain block. Executed flips from
// false to true exactly once, inside the transaction that applies the
// block's projection.
type Block struct {
	Hash          string `gorm:"primary_key;size:80"`
	Number        int64  `gorm:"unique_index"`
	ParentHash    string `gorm:"size:80"`
	ExtrinsicData GroupedJSON `gorm:"type:longtext"`
	EventData     GroupedJSON `gorm:"type:longtext"`
	Executed      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Extrinsics returns the grouped extrinsic calls of module/function.
func (b *Block) Extrinsics(module, function string) []chain.Args {
	return chain.GroupedCalls(b.ExtrinsicData).Calls(module, function)
}

// Events returns the grouped event attributes of module/event.
func (b *Block) Events(module, event string) []chain.Args {
	return chain.GroupedCalls(b.EventData).Calls(module, event)
}

// allModels lists every table in migration order.
func allModels() []interface{} {
	return []interface{}{
		&Account{}, &Dao{}, &Asset{}, &AssetHolding{}, &Governance{},
		&Proposal{}, &Vote{}, &MultiSig{}, &MultiSigTransaction{}, &Block{},
	}
}
