package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/perchhq/perch/internal/protocol/wire"
)

// rpcCallTimeout bounds control-plane calls, which may need to reach a
// machine over its own socket.
const rpcCallTimeout = 30 * time.Second

// CallMachineRPC invokes a method on an agent machine's daemon through the
// server's RPC relay. Params are encrypted by the caller; the method name is
// scoped as "machine:<machineId>:<method>".
//
// This is the dispatch path for wake/resume commands produced by the wake
// resolver.
func (c *Client) CallMachineRPC(machineID string, method string, paramsCipher string) (json.RawMessage, error) {
	scoped := fmt.Sprintf("machine:%s:%s", machineID, method)
	payload, err := json.Marshal(wire.RPCCallPayload{Method: scoped, Params: paramsCipher})
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", scoped, err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("rpc %s: %w", scoped, err)
	}
	resp, err := c.EmitWithAck("rpc-call", data, rpcCallTimeout)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", scoped, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("rpc %s: missing ack", scoped)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", scoped, err)
	}
	var ack wire.RPCAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, fmt.Errorf("rpc %s: malformed ack: %w", scoped, err)
	}
	if !ack.OK {
		return nil, fmt.Errorf("rpc %s: %s", scoped, ack.Error)
	}
	result, err := json.Marshal(ack.Result)
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", scoped, err)
	}
	return result, nil
}
