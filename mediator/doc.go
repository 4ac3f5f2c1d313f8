// Copyright 2026 The Syncroom Authors
// SPDX-License-Identifier: Apache-2.0

// Package mediator is the client side of the signaling mediator: the
// central rendezvous service peers use to create and join rooms, list
// members, and relay negotiation messages before they are directly
// connected. It carries no application data.
//
// The control connection is a websocket carrying JSON text frames:
//
//	{"event": "<name>", "args": [<json>, ...]}
//
// On connect the server sends a connect frame whose first argument is
// the connection id assigned to this peer. Commands (createRoom,
// joinRoom, getAllMembers) are answered by a frame named after the
// command with an "-ack" suffix; concurrent calls of one command are
// resolved in the order they were issued. The server pushes memberJoined
// when another peer joins the room after us.
//
// Negotiation messages are relayed verbatim. The client emits
// offer-<own id>, answer-<own id>, and candidate-<own id> with arguments
// [target, payload]; the server delivers them to the target under the
// same name with arguments [sender, payload]. [Client] implements
// transport.Signaler on top of this.
//
// For each peer discovered, the client builds a protocol.Transport from
// the factory it was constructed with. Peers already in the room when we
// join are started and initiated concurrently; peers that join later are
// only started, and initiate from their side. A peer whose negotiation
// fails is dropped without affecting the others. Registered
// [PeerObserver]s learn when a transport is established and when it is
// gone.
//
// Losing the control connection closes [Client.Done]; every transport
// still depending on the relay sees it through its Signaler and closes.
// The client never reconnects on its own.
package mediator
