package dkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/corestario/kyber"
	"github.com/corestario/kyber/encrypt/ecies"
	"github.com/corestario/kyber/share"

	"github.com/lidofinance/tssd/protocol"
)

const (
	roundCommits = 1
	roundDeals   = 2
)

type commitsPayload struct {
	EncryptionKey []byte   `json:"encryption_key"`
	Commits       [][]byte `json:"commits"`
}

type dealPayload struct {
	Cipher []byte `json:"cipher"`
}

// DKG is a two-round Joint-Feldman key generation for one party:
//
//	round 1: broadcast an encryption key and commitments to a random
//	         polynomial of degree threshold;
//	round 2: send every peer its evaluation of the polynomial, encrypted.
//
// The party's share is the sum of the evaluations it receives and the joint
// public key is the sum of the constant-term commitments.
type DKG struct {
	identity  string
	index     uint16
	threshold uint16
	parties   uint16

	secKey  kyber.Scalar
	pubKey  kyber.Point
	poly    *share.PriPoly
	commits []kyber.Point

	pubkeys     PKStore
	peerCommits map[uint16][]kyber.Point

	round     int
	collector *protocol.Collector
	outgoing  []protocol.Message
	result    *LocalKeyShare
}

var _ protocol.StateMachine[*LocalKeyShare] = (*DKG)(nil)

// NewDKG prepares party index of a threshold-of-parties key generation.
func NewDKG(identity string, index, threshold, parties uint16) (*DKG, error) {
	if threshold < 1 || threshold >= parties {
		return nil, fmt.Errorf("threshold must be in [1, %d), got %d", parties, threshold)
	}
	if index < 1 || index > parties {
		return nil, fmt.Errorf("index must be in [1, %d], got %d", parties, index)
	}

	stream := RandomStream()
	d := &DKG{
		identity:    identity,
		index:       index,
		threshold:   threshold,
		parties:     parties,
		peerCommits: make(map[uint16][]kyber.Point, parties-1),
		round:       roundCommits,
	}
	d.secKey = suite.Scalar().Pick(stream)
	d.pubKey = suite.Point().Mul(d.secKey, nil)
	d.poly = share.NewPriPoly(suite, int(threshold)+1, nil, stream)
	_, d.commits = d.poly.Commit(nil).Info()

	peers := make([]uint16, 0, parties-1)
	for i := uint16(1); i <= parties; i++ {
		if i != index {
			peers = append(peers, i)
		}
	}
	d.collector = protocol.NewCollector(peers)

	if err := d.queueCommits(); err != nil {
		return nil, err
	}

	return d, nil
}

func (d *DKG) queueCommits() error {
	pubKeyBz, err := d.pubKey.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal encryption key: %w", err)
	}
	commits, err := MarshalPoints(d.commits)
	if err != nil {
		return err
	}

	body, err := protocol.EncodeRound(roundCommits, commitsPayload{EncryptionKey: pubKeyBz, Commits: commits})
	if err != nil {
		return err
	}
	d.outgoing = append(d.outgoing, protocol.Broadcast(d.index, body))

	return nil
}

func (d *DKG) Outgoing() []protocol.Message {
	out := d.outgoing
	d.outgoing = nil
	return out
}

func (d *DKG) Handle(msg protocol.Message) error {
	if d.result != nil {
		return nil
	}

	body, err := protocol.DecodeRound(msg)
	if err != nil {
		return err
	}

	switch body.Round {
	case roundCommits:
		if !msg.IsBroadcast() {
			return protocol.NewError(protocol.InconsistentRound, msg.Sender, errors.New("commitments must be broadcast"))
		}
	case roundDeals:
		if msg.IsBroadcast() || *msg.Receiver != d.index {
			return protocol.NewError(protocol.InconsistentRound, msg.Sender, errors.New("deal must be addressed to this party"))
		}
	default:
		return protocol.NewError(protocol.InconsistentRound, msg.Sender, fmt.Errorf("unknown round %d", body.Round))
	}

	if err := d.collector.Add(body.Round, msg.Sender, body.Payload); err != nil {
		return err
	}

	return d.advance()
}

func (d *DKG) advance() error {
	if d.round == roundCommits && d.collector.Complete(roundCommits) {
		if err := d.processCommits(d.collector.Take(roundCommits)); err != nil {
			return err
		}
		if err := d.queueDeals(); err != nil {
			return err
		}
		d.round = roundDeals
	}

	if d.round == roundDeals && d.collector.Complete(roundDeals) {
		return d.processDeals(d.collector.Take(roundDeals))
	}

	return nil
}

func (d *DKG) processCommits(payloads map[uint16]json.RawMessage) error {
	for sender, raw := range payloads {
		var payload commitsPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return protocol.NewError(protocol.MalformedMessage, sender, fmt.Errorf("failed to unmarshal commitments: %w", err))
		}
		if len(payload.Commits) != int(d.threshold)+1 {
			return protocol.NewError(protocol.MalformedMessage, sender,
				fmt.Errorf("expected %d commitments, got %d", d.threshold+1, len(payload.Commits)))
		}

		pk := suite.Point()
		if err := pk.UnmarshalBinary(payload.EncryptionKey); err != nil {
			return protocol.NewError(protocol.MalformedMessage, sender, fmt.Errorf("failed to unmarshal encryption key: %w", err))
		}
		commits, err := UnmarshalPoints(payload.Commits)
		if err != nil {
			return protocol.NewError(protocol.MalformedMessage, sender, err)
		}

		d.pubkeys.Add(&PK2Participant{Participant: sender, PK: pk})
		d.peerCommits[sender] = commits
	}
	sort.Sort(d.pubkeys)

	return nil
}

func (d *DKG) queueDeals() error {
	for _, peer := range d.pubkeys {
		evaluation, err := d.poly.Eval(int(peer.Participant) - 1).V.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal deal for party %d: %w", peer.Participant, err)
		}
		cipher, err := ecies.Encrypt(suite, peer.PK, evaluation, suite.Hash)
		if err != nil {
			return fmt.Errorf("failed to encrypt deal for party %d: %w", peer.Participant, err)
		}

		body, err := protocol.EncodeRound(roundDeals, dealPayload{Cipher: cipher})
		if err != nil {
			return err
		}
		d.outgoing = append(d.outgoing, protocol.P2P(d.index, peer.Participant, body))
	}

	return nil
}

func (d *DKG) processDeals(payloads map[uint16]json.RawMessage) error {
	secret := suite.Scalar().Set(d.poly.Eval(int(d.index) - 1).V)
	joint := make([]kyber.Point, len(d.commits))
	for i, c := range d.commits {
		joint[i] = suite.Point().Set(c)
	}

	for sender, raw := range payloads {
		var payload dealPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return protocol.NewError(protocol.MalformedMessage, sender, fmt.Errorf("failed to unmarshal deal: %w", err))
		}
		plain, err := ecies.Decrypt(suite, d.secKey, payload.Cipher, suite.Hash)
		if err != nil {
			return protocol.NewError(protocol.MalformedMessage, sender, fmt.Errorf("failed to decrypt deal: %w", err))
		}
		evaluation := suite.Scalar()
		if err := evaluation.UnmarshalBinary(plain); err != nil {
			return protocol.NewError(protocol.MalformedMessage, sender, fmt.Errorf("failed to unmarshal deal: %w", err))
		}

		commits := d.peerCommits[sender]
		expected := share.NewPubPoly(suite, nil, commits).Eval(int(d.index) - 1).V
		if !suite.Point().Mul(evaluation, nil).Equal(expected) {
			return protocol.NewError(protocol.MalformedMessage, sender, errors.New("deal does not match commitments"))
		}

		secret.Add(secret, evaluation)
		for i, c := range commits {
			joint[i].Add(joint[i], c)
		}
	}

	d.result = &LocalKeyShare{
		Identity:  d.identity,
		Threshold: d.threshold,
		Parties:   d.parties,
		Index:     d.index,
		Share:     &share.PriShare{I: int(d.index) - 1, V: secret},
		Commits:   joint,
	}

	return nil
}

func (d *DKG) Done() bool {
	return d.result != nil
}

func (d *DKG) Result() (*LocalKeyShare, error) {
	if d.result == nil {
		return nil, errors.New("key generation is not complete")
	}
	return d.result, nil
}
