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

// Package chain wraps the node RPC used by the ingestor: block and event
// fetching, the account map and signed extrinsic submission.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/genesis-dao/daosync/log"
)

var logger = log.NewModuleLogger(log.ChainClient)

// ErrEmptyResponse marks an RPC call that succeeded at the transport level
// but returned no data. The retry controller walks its schedule for it like
// any other fault (the node may still be syncing); once the schedule is
// exhausted the outer loop decides what to do with the tick.
var ErrEmptyResponse = errors.New("empty response from chain RPC")

// TransientError wraps transport faults that the retry controller is allowed
// to absorb.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient rpc fault: " + e.Err.Error() }
func (e *TransientError) Cause() error  { return e.Err }

// IsTransient reports whether err (at any wrap depth) is a transport fault.
func IsTransient(err error) bool {
	for err != nil {
		if _, ok := err.(*TransientError); ok {
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

// Client is a JSON-RPC 2.0 client for the DAO node sidecar API.
type Client struct {
	url   string
	hc    *http.Client
	reqID int64
}

// NewClient connects to the given RPC endpoint. The ws:// scheme used by
// node operators is accepted and mapped onto the HTTP transport.
func NewClient(url string) *Client {
	url = strings.Replace(url, "ws://", "http://", 1)
	url = strings.Replace(url, "wss://", "https://", 1)
	return &Client{
		url: url,
		hc:  &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	Version string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := json.Marshal(&rpcRequest{
		Version: "2.0",
		ID:      atomic.AddInt64(&c.reqID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrapf(err, "cannot encode %s request", method)
	}

	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "cannot build %s request", method)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s returned HTTP %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return errors.Wrapf(err, "cannot decode %s response", method)
	}
	if rpcResp.Error != nil {
		return errors.Errorf("%s failed: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return errors.Wrap(ErrEmptyResponse, method)
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return errors.Wrapf(err, "cannot decode %s result", method)
	}
	return nil
}

// classifyTransportError separates faults the retry controller may absorb
// from everything else.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(net.Error); ok {
		return &TransientError{Err: err}
	}
	msg := err.Error()
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"use of closed network connection",
		io.EOF.Error(),
	} {
		if strings.Contains(msg, pattern) {
			return &TransientError{Err: err}
		}
	}
	return err
}

// FetchBlock fetches one block envelope. With a hash the block is fetched by
// hash; otherwise with a number, by number; with neither, the current head.
// Hash wins when both are given. Events are fetched in a second call keyed
// by the returned hash.
func (c *Client) FetchBlock(ctx context.Context, hash string, number *int64) (*BlockEnvelope, error) {
	params := map[string]interface{}{}
	switch {
	case hash != "":
		params["block_hash"] = hash
	case number != nil:
		params["block_number"] = *number
	}

	var raw rawBlock
	if err := c.call(ctx, "get_block", params, &raw); err != nil {
		return nil, err
	}
	num, err := parseBlockNumber(raw.Header.Number)
	if err != nil {
		return nil, err
	}
	if raw.Header.Hash == "" {
		return nil, errors.Wrap(ErrEmptyResponse, "get_block header")
	}

	var rawEvents []rawEvent
	if err := c.call(ctx, "get_events", map[string]interface{}{"block_hash": raw.Header.Hash}, &rawEvents); err != nil {
		return nil, err
	}

	return &BlockEnvelope{
		Number:     num,
		Hash:       raw.Header.Hash,
		ParentHash: raw.Header.ParentHash,
		Extrinsics: groupExtrinsics(raw.Extrinsics),
		Events:     groupEvents(rawEvents),
	}, nil
}

// QueryAccounts iterates the System.Account map and returns every address
// known to the chain. Used to seed the projection after a resync.
func (c *Client) QueryAccounts(ctx context.Context) ([]string, error) {
	var pairs [][]json.RawMessage
	params := map[string]interface{}{"module": "System", "storage_function": "Account"}
	if err := c.call(ctx, "query_map", params, &pairs); err != nil {
		return nil, err
	}

	addresses := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) == 0 {
			continue
		}
		var addr string
		if err := json.Unmarshal(pair[0], &addr); err != nil {
			logger.Warn("Skipping unparseable account map key", "key", string(pair[0]))
			continue
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

// SubmitSignedExtrinsic submits a pre-signed extrinsic and returns the
// extrinsic hash. The ingestor never calls this; it exists for external
// tooling built on the same client.
func (c *Client) SubmitSignedExtrinsic(ctx context.Context, extrinsic string) (string, error) {
	var hash string
	params := map[string]interface{}{"extrinsic": extrinsic}
	if err := c.call(ctx, "submit_extrinsic", params, &hash); err != nil {
		return "", err
	}
	return hash, nil
}
