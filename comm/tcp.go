/*
Copyright © 2019 the Quadmesh authors.
This file is part of Quadmesh.

Quadmesh is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Quadmesh is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Quadmesh.  If not, see <http://www.gnu.org/licenses/>.
*/

package comm

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/snappy"
	"github.com/sirupsen/logrus"
)

func init() {
	gob.Register([]int{})
	gob.Register([]int32{})
	gob.Register([]int64{})
	gob.Register([]float32{})
	gob.Register([]float64{})
}

// Empty is used for passing content-less messages.
type Empty struct{}

// Envelope is the wire form of one message. Data holds the snappy-compressed
// gob encoding of the payload.
type Envelope struct {
	Src, Tag int
	Data     []byte
}

type wirePayload struct {
	V interface{}
}

func encodePayload(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wirePayload{V: v}); err != nil {
		return nil, err
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func decodePayload(b []byte) (interface{}, error) {
	raw, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, err
	}
	var p wirePayload
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&p); err != nil {
		return nil, err
	}
	return p.V, nil
}

// Mailbox receives messages for a TCPNode. It should not be interacted
// with directly, but it is exported to meet RPC requirements.
type Mailbox struct {
	node *TCPNode
}

// Deliver queues an incoming message. It meets the requirements for use
// with rpc.Call.
func (m *Mailbox) Deliver(e *Envelope, _ *Empty) error {
	v, err := decodePayload(e.Data)
	if err != nil {
		return fmt.Errorf("comm: decoding message from rank %d tag %d: %v", e.Src, e.Tag, err)
	}
	m.node.box.deliver(e.Src, e.Tag, v)
	return nil
}

// Abort marks the group as failed. It meets the requirements for use
// with rpc.Call.
func (m *Mailbox) Abort(e *Envelope, _ *Empty) error {
	m.node.box.abort(&abortError{rank: e.Src, reason: errors.New(string(e.Data))})
	return nil
}

// TCPNode is one rank of a group whose members communicate over TCP.
type TCPNode struct {
	rank  int
	addrs []string
	box   *mailbox
	ln    net.Listener

	mu      sync.Mutex
	clients []*rpc.Client

	// Log receives connection retry messages.
	Log logrus.FieldLogger

	// DialTimeout bounds the total time spent retrying a connection to a
	// peer. The default is one minute.
	DialTimeout time.Duration

	abortOnce sync.Once
}

// NewTCPNode starts serving rank's mailbox on ln. Connect must be called
// before any messages are sent.
func NewTCPNode(rank int, ln net.Listener) (*TCPNode, error) {
	n := &TCPNode{
		rank:        rank,
		box:         newMailbox(),
		ln:          ln,
		Log:         logrus.StandardLogger(),
		DialTimeout: time.Minute,
	}
	server := rpc.NewServer()
	if err := server.RegisterName("Mailbox", &Mailbox{node: n}); err != nil {
		return nil, err
	}
	go server.Accept(ln)
	return n, nil
}

// Addr is the address the node is listening on.
func (n *TCPNode) Addr() string { return n.ln.Addr().String() }

// Connect records the addresses of every rank in the group, indexed by rank,
// and dials all peers, retrying with exponential backoff while they start up.
func (n *TCPNode) Connect(ctx context.Context, addrs []string) error {
	if n.rank < 0 || n.rank >= len(addrs) {
		return fmt.Errorf("comm: rank %d out of range for %d addresses", n.rank, len(addrs))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.addrs = addrs
	n.clients = make([]*rpc.Client, len(addrs))
	for r, addr := range addrs {
		if r == n.rank {
			continue
		}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = n.DialTimeout
		var client *rpc.Client
		err := backoff.RetryNotify(
			func() error {
				var err error
				client, err = rpc.Dial("tcp", addr)
				return err
			},
			backoff.WithContext(b, ctx),
			func(err error, d time.Duration) {
				n.Log.WithFields(logrus.Fields{
					"rank": n.rank,
					"peer": r,
				}).Warnf("%v: retrying in %v", err, d)
			},
		)
		if err != nil {
			return fmt.Errorf("comm: connecting to rank %d at %s: %v", r, addr, err)
		}
		n.clients[r] = client
	}
	return nil
}

// Rank implements Comm.
func (n *TCPNode) Rank() int { return n.rank }

// Size implements Comm.
func (n *TCPNode) Size() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.addrs)
}

func (n *TCPNode) client(r int) (*rpc.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if r < 0 || r >= len(n.clients) {
		return nil, fmt.Errorf("comm: rank %d out of range [0, %d)", r, len(n.clients))
	}
	if n.clients[r] == nil {
		return nil, fmt.Errorf("comm: rank %d is not connected", r)
	}
	return n.clients[r], nil
}

// Send implements Comm.
func (n *TCPNode) Send(ctx context.Context, dest, tag int, payload interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dest == n.rank {
		n.box.deliver(n.rank, tag, payload)
		return nil
	}
	c, err := n.client(dest)
	if err != nil {
		return err
	}
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("comm: encoding message for rank %d: %v", dest, err)
	}
	call := c.Go("Mailbox.Deliver", &Envelope{Src: n.rank, Tag: tag, Data: data}, &Empty{}, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv implements Comm.
func (n *TCPNode) Recv(ctx context.Context, src, tag int) (interface{}, error) {
	if err := checkRank(n, src); err != nil {
		return nil, err
	}
	return n.box.receive(ctx, src, tag)
}

// Abort implements Comm. Peers are notified on a best-effort basis.
func (n *TCPNode) Abort(reason error) {
	n.abortOnce.Do(func() {
		n.box.abort(&abortError{rank: n.rank, reason: reason})
		n.mu.Lock()
		clients := append([]*rpc.Client(nil), n.clients...)
		n.mu.Unlock()
		for r, c := range clients {
			if c == nil {
				continue
			}
			e := &Envelope{Src: n.rank, Data: []byte(reason.Error())}
			if err := c.Call("Mailbox.Abort", e, &Empty{}); err != nil {
				n.Log.WithField("peer", r).Warnf("comm: notifying abort: %v", err)
			}
		}
	})
}

// Close stops listening and closes connections to peers.
func (n *TCPNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.clients {
		if c != nil {
			c.Close()
		}
	}
	return n.ln.Close()
}
