package nodeconfig

import (
	"errors"
	"time"
)

const (
	SlotDuration  = 20 * time.Second
	SlotsPerEpoch = 60
)

type LinearFees struct {
	Constant    int `yaml:"constant"`
	Coefficient int `yaml:"coefficient"`
	Certificate int `yaml:"certificate"`
}

type BlockchainConfiguration struct {
	Block0Date          int64      `yaml:"block0_date"`
	Discrimination      string     `yaml:"discrimination"`
	Block0Consensus     string     `yaml:"block0_consensus"`
	ConsensusLeaderIDs  []string   `yaml:"consensus_leader_ids"`
	LinearFees          LinearFees `yaml:"linear_fees"`
	ProposalExpiration  int        `yaml:"proposal_expiration"`
	SlotsPerEpoch       int        `yaml:"slots_per_epoch"`
	SlotDuration        int        `yaml:"slot_duration"`
	KESUpdateSpeed      int        `yaml:"kes_update_speed"`
	ActiveSlotCoeff     string     `yaml:"consensus_genesis_praos_active_slot_coeff"`
	BlockContentMaxSize int        `yaml:"block_content_max_size"`
	EpochStabilityDepth int        `yaml:"epoch_stability_depth"`
	TxMaxExpiryEpochs   int        `yaml:"tx_max_expiry_epochs"`
	Treasury            int64      `yaml:"treasury"`
	Committees          []string   `yaml:"committees"`
}

type InitialFund struct {
	Address string `yaml:"address"`
	Value   int64  `yaml:"value"`
}

type Initial struct {
	Fund []InitialFund `yaml:"fund,omitempty"`
}

// Genesis is the genesis.yaml document encoded into block0.
type Genesis struct {
	BlockchainConfiguration BlockchainConfiguration `yaml:"blockchain_configuration"`
	Initial                 []Initial               `yaml:"initial"`
}

// NewGenesis builds the genesis document for an election whose chain starts
// at votingStart and is produced by the given BFT leaders.
func NewGenesis(votingStart time.Time, leaderIDs, committees []string) (Genesis, error) {
	if votingStart.IsZero() {
		return Genesis{}, errors.New("voting start time is required")
	}
	if len(leaderIDs) == 0 {
		return Genesis{}, errors.New("at least one consensus leader is required")
	}
	return Genesis{
		BlockchainConfiguration: BlockchainConfiguration{
			Block0Date:          votingStart.Unix(),
			Discrimination:      "production",
			Block0Consensus:     "bft",
			ConsensusLeaderIDs:  append([]string(nil), leaderIDs...),
			ProposalExpiration:  100,
			SlotsPerEpoch:       SlotsPerEpoch,
			SlotDuration:        int(SlotDuration / time.Second),
			KESUpdateSpeed:      46800,
			ActiveSlotCoeff:     "0.500",
			BlockContentMaxSize: 102400,
			EpochStabilityDepth: 102400,
			TxMaxExpiryEpochs:   2,
			Treasury:            1000000,
			Committees:          append([]string{}, committees...),
		},
		Initial: []Initial{},
	}, nil
}
