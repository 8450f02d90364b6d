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

package chain

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Args is one extrinsic argument map or one event attribute map.
type Args map[string]interface{}

// GroupedCalls groups extrinsics as module -> function -> argument maps and
// events as module -> event name -> attribute maps.
type GroupedCalls map[string]map[string][]Args

// Calls returns the call list for module/name, nil when absent.
func (g GroupedCalls) Calls(module, name string) []Args {
	if g == nil {
		return nil
	}
	return g[module][name]
}

// Add appends one call/event to the group, allocating nested maps on demand.
func (g GroupedCalls) Add(module, name string, args Args) {
	if g[module] == nil {
		g[module] = map[string][]Args{}
	}
	g[module][name] = append(g[module][name], args)
}

// BlockEnvelope is the serializable record of one chain block as consumed by
// the ingestor: header fields plus grouped extrinsics and events.
type BlockEnvelope struct {
	Number     int64        `json:"number"`
	Hash       string       `json:"hash"`
	ParentHash string       `json:"parent_hash"`
	Extrinsics GroupedCalls `json:"extrinsics"`
	Events     GroupedCalls `json:"events"`
}

// Raw RPC shapes. The node wraps both extrinsics and events in a "value"
// envelope; see the runtime metadata docs.

type rawHeader struct {
	Number     json.RawMessage `json:"number"`
	Hash       string          `json:"hash"`
	ParentHash string          `json:"parentHash"`
}

type rawCall struct {
	CallModule   string `json:"call_module"`
	CallFunction string `json:"call_function"`
	CallArgs     []struct {
		Name  string      `json:"name"`
		Value interface{} `json:"value"`
	} `json:"call_args"`
}

type rawExtrinsic struct {
	Value struct {
		Call rawCall `json:"call"`
	} `json:"value"`
}

type rawBlock struct {
	Header     rawHeader      `json:"header"`
	Extrinsics []rawExtrinsic `json:"extrinsics"`
}

type rawEvent struct {
	Value struct {
		ModuleID   string `json:"module_id"`
		EventID    string `json:"event_id"`
		Attributes Args   `json:"attributes"`
	} `json:"value"`
}

// groupExtrinsics flattens the raw extrinsic list into the grouped form.
func groupExtrinsics(raw []rawExtrinsic) GroupedCalls {
	grouped := GroupedCalls{}
	for _, ext := range raw {
		call := ext.Value.Call
		if call.CallModule == "" {
			continue
		}
		args := Args{}
		for _, a := range call.CallArgs {
			args[a.Name] = a.Value
		}
		grouped.Add(call.CallModule, call.CallFunction, args)
	}
	return grouped
}

// groupEvents flattens the raw event list into the grouped form.
func groupEvents(raw []rawEvent) GroupedCalls {
	grouped := GroupedCalls{}
	for _, ev := range raw {
		if ev.Value.ModuleID == "" {
			continue
		}
		attrs := ev.Value.Attributes
		if attrs == nil {
			attrs = Args{}
		}
		grouped.Add(ev.Value.ModuleID, ev.Value.EventID, attrs)
	}
	return grouped
}

// parseBlockNumber accepts decimal numbers, decimal strings and 0x-prefixed
// hex strings; nodes are not consistent about the header encoding.
func parseBlockNumber(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing block number")
	}
	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err != nil {
		return 0, errors.Errorf("unparseable block number %s", string(raw))
	}
	if strings.HasPrefix(asString, "0x") {
		n, err := strconv.ParseInt(asString[2:], 16, 64)
		return n, errors.Wrapf(err, "unparseable hex block number %q", asString)
	}
	n, err := strconv.ParseInt(asString, 10, 64)
	return n, errors.Wrapf(err, "unparseable block number %q", asString)
}
