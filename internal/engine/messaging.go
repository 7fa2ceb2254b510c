package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/nanoframework/nf-debugger-sub001/internal/protocol"
)

// EndpointKey identifies an RPC endpoint.
type EndpointKey struct {
	Type uint32
	ID   uint32
}

// InboundMessage is an RPC message sent by the target to a host endpoint.
type InboundMessage struct {
	Address protocol.MessagingAddress
	Data    []byte
	// IsReply is set for Messaging_Reply frames answering an earlier send.
	IsReply bool
}

// Endpoint is a registered host endpoint. Messages addressed to it arrive on
// Messages until it is deregistered.
type Endpoint struct {
	Key  EndpointKey
	msgs chan InboundMessage
}

func (ep *Endpoint) Messages() <-chan InboundMessage { return ep.msgs }

type directory struct {
	mu        sync.Mutex
	endpoints map[EndpointKey]*Endpoint
}

func newDirectory() *directory {
	return &directory{endpoints: make(map[EndpointKey]*Endpoint)}
}

// deliver reports whether k is registered and, for in != nil, queued the
// message. Sending under the lock keeps it ordered with deregistration.
func (d *directory) deliver(k EndpointKey, in *InboundMessage) (found, queued bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ep := d.endpoints[k]
	if ep == nil {
		return false, false
	}
	if in == nil {
		return true, true
	}
	select {
	case ep.msgs <- *in:
		return true, true
	default:
		return true, false
	}
}

func (d *directory) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, ep := range d.endpoints {
		close(ep.msgs)
		delete(d.endpoints, k)
	}
}

// RegisterEndpoint announces a host endpoint for (typ, id).
func (e *Engine) RegisterEndpoint(typ, id uint32) (*Endpoint, error) {
	k := EndpointKey{typ, id}
	d := e.endpoints
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.endpoints[k]; ok {
		return nil, fmt.Errorf("endpoint %d/%d already registered", typ, id)
	}
	ep := &Endpoint{Key: k, msgs: make(chan InboundMessage, 16)}
	d.endpoints[k] = ep
	return ep, nil
}

// DeregisterEndpoint removes an endpoint and closes its channel.
func (e *Engine) DeregisterEndpoint(ep *Endpoint) {
	d := e.endpoints
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.endpoints[ep.Key] == ep {
		delete(d.endpoints, ep.Key)
		close(ep.msgs)
	}
}

// QueryEndpoint asks whether the target hosts the addressed endpoint.
func (e *Engine) QueryEndpoint(ctx context.Context, addr protocol.MessagingAddress) (bool, error) {
	reply, err := request[*protocol.MessagingQueryReply](ctx, e, protocol.CmdMessagingQuery,
		&protocol.MessagingQuery{Address: addr}, e.defaultCall())
	if err != nil {
		return false, err
	}
	return reply.Found != 0, nil
}

// SendMessage delivers data to a target endpoint.
func (e *Engine) SendMessage(ctx context.Context, addr protocol.MessagingAddress, data []byte) (bool, error) {
	return e.sendMessaging(ctx, protocol.CmdMessagingSend, addr, data)
}

// ReplyMessage answers a message the target sent to a host endpoint.
func (e *Engine) ReplyMessage(ctx context.Context, addr protocol.MessagingAddress, data []byte) (bool, error) {
	return e.sendMessaging(ctx, protocol.CmdMessagingReply, addr, data)
}

func (e *Engine) sendMessaging(ctx context.Context, cmd uint32, addr protocol.MessagingAddress, data []byte) (bool, error) {
	reply, err := request[*protocol.MessagingQueryReply](ctx, e, cmd,
		&protocol.MessagingSend{Address: addr, Data: data}, e.defaultCall())
	if err != nil {
		return false, err
	}
	return reply.Found != 0, nil
}

// handleMessaging answers messaging frames initiated by the target.
func (e *Engine) handleMessaging(msg *protocol.Message) error {
	var addr protocol.MessagingAddress
	var in *InboundMessage
	switch rec := msg.Record.(type) {
	case *protocol.MessagingQuery:
		addr = rec.Address
	case *protocol.MessagingSend:
		addr = rec.Address
		in = &InboundMessage{Address: rec.Address, Data: rec.Data, IsReply: msg.Header.Cmd == protocol.CmdMessagingReply}
	default:
		return fmt.Errorf("malformed messaging frame")
	}

	found := uint32(0)
	ok, queued := e.endpoints.deliver(EndpointKey{addr.ToType, addr.ToID}, in)
	switch {
	case ok && queued:
		found = 1
	case ok:
		e.log.Warn().Uint32("type", addr.ToType).Uint32("id", addr.ToID).Msg("endpoint queue full, message dropped")
	}
	return e.reply(msg.Header, 0, &protocol.MessagingQueryReply{Found: found, Address: addr})
}
