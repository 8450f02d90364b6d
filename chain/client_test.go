package chain

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcStub serves canned JSON-RPC results per method and records the
// requests it saw.
type rpcStub struct {
	t       *testing.T
	results map[string]string
	params  []map[string]interface{}
	methods []string
}

func newRPCStub(t *testing.T) *rpcStub {
	return &rpcStub{t: t, results: map[string]string{}}
}

func (s *rpcStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := ioutil.ReadAll(r.Body)
		require.NoError(s.t, err)
		var req struct {
			Method string                 `json:"method"`
			Params map[string]interface{} `json:"params"`
		}
		require.NoError(s.t, json.Unmarshal(body, &req))
		s.methods = append(s.methods, req.Method)
		s.params = append(s.params, req.Params)

		result, ok := s.results[req.Method]
		if !ok {
			result = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	})
}

const blockResult = `{
	"header": {"number": "0x2a", "hash": "0xabc", "parentHash": "0xdef"},
	"extrinsics": [
		{"value": {"call": {
			"call_module": "DaoCore",
			"call_function": "create_dao",
			"call_args": [
				{"name": "dao_id", "value": "DAO1"},
				{"name": "dao_name", "value": "Genesis"}
			]
		}}},
		{"value": {"call": {"call_module": "", "call_function": ""}}}
	]
}`

const eventsResult = `[
	{"value": {"module_id": "System", "event_id": "NewAccount", "attributes": {"account": "alice"}}},
	{"value": {"module_id": "DaoCore", "event_id": "DaoCreated", "attributes": {"dao_id": "DAO1", "owner": "alice"}}},
	{"value": {"module_id": "DaoCore", "event_id": "DaoCreated", "attributes": {"dao_id": "DAO2", "owner": "bob"}}}
]`

func TestFetchBlockGroupsExtrinsicsAndEvents(t *testing.T) {
	stub := newRPCStub(t)
	stub.results["get_block"] = blockResult
	stub.results["get_events"] = eventsResult
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	env, err := client.FetchBlock(context.Background(), "", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(42), env.Number)
	assert.Equal(t, "0xabc", env.Hash)
	assert.Equal(t, "0xdef", env.ParentHash)

	creates := env.Extrinsics.Calls("DaoCore", "create_dao")
	require.Len(t, creates, 1)
	assert.Equal(t, "DAO1", creates[0]["dao_id"])
	assert.Equal(t, "Genesis", creates[0]["dao_name"])

	created := env.Events.Calls("DaoCore", "DaoCreated")
	require.Len(t, created, 2)
	assert.Equal(t, "alice", created[0]["owner"])
	assert.Equal(t, "bob", created[1]["owner"])

	// Events are fetched by the hash the block call returned.
	require.Equal(t, []string{"get_block", "get_events"}, stub.methods)
	assert.Equal(t, "0xabc", stub.params[1]["block_hash"])
}

func TestFetchBlockPrefersHashOverNumber(t *testing.T) {
	stub := newRPCStub(t)
	stub.results["get_block"] = blockResult
	stub.results["get_events"] = `[]`
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	number := int64(7)
	client := NewClient(srv.URL)
	_, err := client.FetchBlock(context.Background(), "0xabc", &number)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", stub.params[0]["block_hash"])
	_, hasNumber := stub.params[0]["block_number"]
	assert.False(t, hasNumber)
}

func TestFetchBlockByNumber(t *testing.T) {
	stub := newRPCStub(t)
	stub.results["get_block"] = blockResult
	stub.results["get_events"] = `[]`
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	number := int64(7)
	client := NewClient(srv.URL)
	_, err := client.FetchBlock(context.Background(), "", &number)
	require.NoError(t, err)

	assert.Equal(t, float64(7), stub.params[0]["block_number"])
}

func TestFetchBlockEmptyResult(t *testing.T) {
	stub := newRPCStub(t)
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.FetchBlock(context.Background(), "", nil)
	require.Error(t, err)
	assert.Equal(t, ErrEmptyResponse, errors.Cause(err))
}

func TestCallClassifiesConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close() // nothing listens here anymore

	client := NewClient(url)
	_, err := client.FetchBlock(context.Background(), "", nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestNewClientMapsWebsocketScheme(t *testing.T) {
	client := NewClient("ws://node.example:9944")
	assert.Equal(t, "http://node.example:9944", client.url)
}

func TestQueryAccounts(t *testing.T) {
	stub := newRPCStub(t)
	stub.results["query_map"] = `[["alice", {}], ["bob", {}], []]`
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	client := NewClient(srv.URL)
	addresses, err := client.QueryAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, addresses)

	assert.Equal(t, "System", stub.params[0]["module"])
	assert.Equal(t, "Account", stub.params[0]["storage_function"])
}

func TestIsTransientWalksWrapChain(t *testing.T) {
	inner := &TransientError{Err: errors.New("connection reset")}
	wrapped := errors.Wrap(errors.Wrap(inner, "fetch"), "tick")
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsTransient(errors.New("connection reset")))
}
