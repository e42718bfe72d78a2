package nodeconfig

import (
	"errors"
	"time"
)

// BlockDate addresses a slot on the chain.
type BlockDate struct {
	Epoch  uint32 `yaml:"epoch"`
	SlotID uint32 `yaml:"slot_id"`
}

// BlockDateAt converts t into the slot that contains it on a chain whose
// block0 is dated block0Date. Times before block0 map to the first slot.
func BlockDateAt(block0Date, t time.Time) BlockDate {
	if !t.After(block0Date) {
		return BlockDate{}
	}
	slots := uint64(t.Sub(block0Date) / SlotDuration)
	return BlockDate{
		Epoch:  uint32(slots / SlotsPerEpoch),
		SlotID: uint32(slots % SlotsPerEpoch),
	}
}

type Proposal struct {
	ExternalID string `yaml:"external_id"`
	Options    int    `yaml:"options"`
	Action     string `yaml:"action"`
}

// VotePlan is the definition handed to the key tool to produce a vote plan
// certificate.
type VotePlan struct {
	PayloadType  string     `yaml:"payload_type"`
	VoteStart    BlockDate  `yaml:"vote_start"`
	VoteEnd      BlockDate  `yaml:"vote_end"`
	CommitteeEnd BlockDate  `yaml:"committee_end"`
	VotingToken  string     `yaml:"voting_token"`
	Proposals    []Proposal `yaml:"proposals"`
}

// NewVotePlan lays out a public vote plan over [votingStart, votingEnd) with
// tallying closing at tallyingEnd.
func NewVotePlan(votingStart, votingEnd, tallyingEnd time.Time, token string, proposals []Proposal) (VotePlan, error) {
	if votingStart.IsZero() || votingEnd.IsZero() {
		return VotePlan{}, errors.New("voting start and end times are required")
	}
	if !votingEnd.After(votingStart) {
		return VotePlan{}, errors.New("voting end must be after voting start")
	}
	if tallyingEnd.IsZero() || tallyingEnd.Before(votingEnd) {
		tallyingEnd = votingEnd
	}
	return VotePlan{
		PayloadType:  "public",
		VoteStart:    BlockDateAt(votingStart, votingStart),
		VoteEnd:      BlockDateAt(votingStart, votingEnd),
		CommitteeEnd: BlockDateAt(votingStart, tallyingEnd),
		VotingToken:  token,
		Proposals:    append([]Proposal{}, proposals...),
	}, nil
}
